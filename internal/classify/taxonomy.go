package classify

import (
	"sort"
	"strings"
)

// The hashtag taxonomy is a strict hierarchy:
//
//	G0 country scope  (#Russia / #World)
//	G1 federal district, Russia only
//	G2 region, currently Central district only
//	G3 city
//	R0 topic rubric, always last
//
// Tags are English; alias tables match the (mostly Russian) article
// text.

const (
	TagRussia = "#Russia"
	TagWorld  = "#World"

	TagCentralDistrict = "#CFD"
)

var g1Districts = []string{
	"#CFD", "#NWFD", "#SFD", "#NCFD", "#VFD", "#UFD", "#SibFD", "#FEFD",
}

var g1Aliases = map[string][]string{
	"#NWFD":  {"санкт-петербург", "петербург", "ленинградская область", "северо-запад"},
	"#SFD":   {"краснодар", "ростов-на-дону", "волгоград", "крым", "севастополь"},
	"#NCFD":  {"ставрополь", "дагестан", "чечн", "осети"},
	"#VFD":   {"нижний новгород", "казан", "самар", "татарстан", "башкортостан", "пермь"},
	"#UFD":   {"екатеринбург", "тюмен", "челябинск", "свердловск"},
	"#SibFD": {"новосибирск", "омск", "красноярск", "иркутск", "кемеров"},
	"#FEFD":  {"владивосток", "хабаровск", "якут", "камчатк", "сахалин"},
}

// g2Regions: Central-district regions only; the rest of the country
// stops at G1 for now.
var g2Aliases = map[string][]string{
	"#Moscow":          {"москва", "москве", "москвы"},
	"#MoscowRegion":    {"московская область", "московской области", "подмосковье", "подмосковья"},
	"#BelgorodRegion":  {"белгородская область", "белгородской области"},
	"#BryanskRegion":   {"брянская область", "брянской области"},
	"#VladimirRegion":  {"владимирская область", "владимирской области"},
	"#VoronezhRegion":  {"воронежская область", "воронежской области"},
	"#IvanovoRegion":   {"ивановская область", "ивановской области"},
	"#KalugaRegion":    {"калужская область", "калужской области"},
	"#KostromaRegion":  {"костромская область", "костромской области"},
	"#KurskRegion":     {"курская область", "курской области"},
	"#LipetskRegion":   {"липецкая область", "липецкой области"},
	"#OryolRegion":     {"орловская область", "орловской области"},
	"#RyazanRegion":    {"рязанская область", "рязанской области"},
	"#SmolenskRegion":  {"смоленская область", "смоленской области"},
	"#TambovRegion":    {"тамбовская область", "тамбовской области"},
	"#TverRegion":      {"тверская область", "тверской области"},
	"#TulaRegion":      {"тульская область", "тульской области"},
	"#YaroslavlRegion": {"ярославская область", "ярославской области"},
}

var g3Aliases = map[string][]string{
	"#Moscow":      {"москва", "москве", "москвы"},
	"#Krasnogorsk": {"красногорск", "красногорске"},
	"#Belgorod":    {"белгород", "белгороде"},
	"#Bryansk":     {"брянск", "брянске"},
	"#Vladimir":    {"владимир", "владимире"},
	"#Voronezh":    {"воронеж", "воронеже"},
	"#Ivanovo":     {"иваново"},
	"#Kaluga":      {"калуга", "калуге"},
	"#Kostroma":    {"кострома", "костроме"},
	"#Kursk":       {"курск", "курске"},
	"#Lipetsk":     {"липецк", "липецке"},
	"#Oryol":       {"орел", "орёл", "орле"},
	"#Ryazan":      {"рязань", "рязани"},
	"#Smolensk":    {"смоленск", "смоленске"},
	"#Tambov":      {"тамбов", "тамбове"},
	"#Tver":        {"тверь", "твери"},
	"#Tula":        {"тула", "туле"},
	"#Yaroslavl":   {"ярославль", "ярославле"},
}

// cityToRegion keeps G2 consistent when only a city alias matched.
var cityToRegion = map[string]string{
	"#Moscow":      "#Moscow",
	"#Krasnogorsk": "#MoscowRegion",
	"#Belgorod":    "#BelgorodRegion",
	"#Bryansk":     "#BryanskRegion",
	"#Vladimir":    "#VladimirRegion",
	"#Voronezh":    "#VoronezhRegion",
	"#Ivanovo":     "#IvanovoRegion",
	"#Kaluga":      "#KalugaRegion",
	"#Kostroma":    "#KostromaRegion",
	"#Kursk":       "#KurskRegion",
	"#Lipetsk":     "#LipetskRegion",
	"#Oryol":       "#OryolRegion",
	"#Ryazan":      "#RyazanRegion",
	"#Smolensk":    "#SmolenskRegion",
	"#Tambov":      "#TambovRegion",
	"#Tver":        "#TverRegion",
	"#Tula":        "#TulaRegion",
	"#Yaroslavl":   "#YaroslavlRegion",
}

// R0 rubric tags; #News is never allowed.
var r0Tags = []string{
	"#Politics", "#Society", "#Economy", "#Sports",
	"#TechMedia", "#Education", "#Culture", "#Auto",
}

const r0Default = "#Society"

var r0Aliases = map[string][]string{
	"#Politics":  {"госдум", "парламент", "выбор", "президент", "министр", "санкци", "законопроект", "дипломат"},
	"#Economy":   {"эконом", "инфляц", "бюджет", "валют", "банк", "налог", "рубл", "биржа", "нефт"},
	"#Sports":    {"футбол", "хокке", "матч", "чемпионат", "олимпи", "турнир", "спортсмен"},
	"#TechMedia": {"технолог", "интернет", "нейросет", "стартап", "гаджет", "софт", "кибер", "медиа"},
	"#Education": {"школ", "универ", "егэ", "студент", "образован", "учител"},
	"#Culture":   {"театр", "выставк", "концерт", "фильм", "музе", "фестивал", "искусств"},
	"#Auto":      {"автомобил", "дорожн", "гибдд", "водител", "парковк", "автопром"},
	"#Society":   {"жител", "городск", "социальн", "здравоохран", "погод", "происшестви"},
}

// TagPack is the resolved hierarchy before ordering.
type TagPack struct {
	G0, G1, G2, G3, R0 string
}

// Allowlist enumerates the only tags the AI escalation may return.
// Anything outside it is discarded.
type Allowlist struct {
	G0, G1, G2, G3, R0 map[string]bool
}

func buildAllowlist() Allowlist {
	a := Allowlist{
		G0: map[string]bool{TagRussia: true, TagWorld: true},
		G1: map[string]bool{},
		G2: map[string]bool{},
		G3: map[string]bool{},
		R0: map[string]bool{},
	}
	for _, t := range g1Districts {
		a.G1[t] = true
	}
	for t := range g2Aliases {
		a.G2[t] = true
	}
	for t := range g3Aliases {
		a.G3[t] = true
	}
	for _, t := range r0Tags {
		a.R0[t] = true
	}
	return a
}

var allowlist = buildAllowlist()

// matchAliases returns the first tag whose alias list hits the sample,
// scanning tags in a stable order.
func matchAliases(sample string, aliases map[string][]string, order []string) string {
	for _, tag := range order {
		for _, alias := range aliases[tag] {
			if strings.Contains(sample, alias) {
				return tag
			}
		}
	}
	return ""
}

func sortedTagKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	g1Order = sortedTagKeys(g1Aliases)
	g2Order = sortedTagKeys(g2Aliases)
	g3Order = sortedTagKeys(g3Aliases)
	r0Order = sortedTagKeys(r0Aliases)
)

// Ordered flattens a TagPack into the final hashtag list:
// G0, then (if Russia) G1, G2, G3, then R0. Duplicates collapse.
func (tp TagPack) Ordered() []string {
	var out []string
	seen := map[string]bool{}
	add := func(t string) {
		if t == "" {
			return
		}
		key := strings.ToLower(t)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, t)
	}
	add(tp.G0)
	if tp.G0 == TagRussia {
		add(tp.G1)
		add(tp.G2)
		add(tp.G3)
	}
	add(tp.R0)
	return out
}
