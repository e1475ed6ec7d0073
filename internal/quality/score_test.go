package quality

import (
	"strings"
	"testing"
)

func TestChecksumDeterministic(t *testing.T) {
	t.Parallel()
	a := Checksum("hello world")
	b := Checksum("hello world")
	if a != b {
		t.Fatalf("checksum not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("checksum length = %d, want 64 hex chars", len(a))
	}
	if a == Checksum("hello world.") {
		t.Fatal("different text must produce a different checksum")
	}
}

func TestScoreEmpty(t *testing.T) {
	t.Parallel()
	score, _ := Score("")
	if score != 0 {
		t.Fatalf("empty text score = %v, want 0", score)
	}
}

func TestScoreLongCleanTextBeatsShort(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("Власти сообщили о запуске новой программы развития транспорта. ", 20)
	short := "Коротко."
	ls, _ := Score(long)
	ss, _ := Score(short)
	if ls <= ss {
		t.Fatalf("long score %v should exceed short score %v", ls, ss)
	}
	if ls < 0.55 {
		t.Fatalf("substantial article scored %v, below default threshold", ls)
	}
}

func TestScoreNoisePenalty(t *testing.T) {
	t.Parallel()
	base := strings.Repeat("Новость о событии в регионе описывает подробности произошедшего. ", 10)
	noisy := base + "Подпишись на наш telegram. Реклама. Читайте также. Новости партнеров."
	bs, _ := Score(base)
	ns, _ := Score(noisy)
	if ns >= bs {
		t.Fatalf("noisy score %v should be below clean score %v", ns, bs)
	}
}

func TestScoreRepeatedLinesPenalty(t *testing.T) {
	t.Parallel()
	line := "Одна и та же строка повторяется в статье снова."
	repeated := strings.Repeat(line+"\n", 10)
	rs, det := Score(repeated)
	if det.RepeatRatio < 0.8 {
		t.Fatalf("repeat ratio = %v, want >= 0.8", det.RepeatRatio)
	}
	unique, _ := Score(strings.Repeat("Каждое предложение этой статьи уникально и описывает новые детали. ", 10))
	if rs >= unique {
		t.Fatalf("repeated-lines score %v should be below unique score %v", rs, unique)
	}
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		title string
		text  string
		want  string
	}{
		{name: "russian", title: "Новости", text: "Сегодня в Москве открыли новую станцию метро.", want: "ru"},
		{name: "english", title: "News", text: "A new metro station opened in the city today.", want: "en"},
		{name: "empty defaults ru", title: "", text: "", want: "ru"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.title, tt.text); got != tt.want {
				t.Fatalf("DetectLanguage = %s, want %s", got, tt.want)
			}
		})
	}
}
