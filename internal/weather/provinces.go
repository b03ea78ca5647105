package weather

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Region is an autonomous community and its provinces.
type Region struct {
	Name      string
	Flag      string
	Provinces []string
}

var regions = []Region{
	{Name: "Andalucía", Flag: "☀️", Provinces: []string{"Almería", "Cádiz", "Córdoba", "Granada", "Huelva", "Jaén", "Málaga", "Sevilla"}},
	{Name: "Aragón", Flag: "🌄", Provinces: []string{"Huesca", "Teruel", "Zaragoza"}},
	{Name: "Asturias", Flag: "🌊", Provinces: []string{"Asturias"}},
	{Name: "Baleares", Flag: "🏝️", Provinces: []string{"Baleares"}},
	{Name: "Canarias", Flag: "🏝️", Provinces: []string{"Las Palmas", "Santa Cruz de Tenerife"}},
	{Name: "Cantabria", Flag: "🌊", Provinces: []string{"Cantabria"}},
	{Name: "Castilla y León", Flag: "🏰", Provinces: []string{"Ávila", "Burgos", "León", "Palencia", "Salamanca", "Segovia", "Soria", "Valladolid", "Zamora"}},
	{Name: "Castilla-La Mancha", Flag: "🌻", Provinces: []string{"Albacete", "Ciudad Real", "Cuenca", "Guadalajara", "Toledo"}},
	{Name: "Cataluña", Flag: "🏙️", Provinces: []string{"Barcelona", "Girona", "Lleida", "Tarragona"}},
	{Name: "Ceuta", Flag: "🏰", Provinces: []string{"Ceuta"}},
	{Name: "Comunidad Valenciana", Flag: "🍊", Provinces: []string{"Alicante", "Castellón", "Valencia"}},
	{Name: "Extremadura", Flag: "🐂", Provinces: []string{"Badajoz", "Cáceres"}},
	{Name: "Galicia", Flag: "🌊", Provinces: []string{"La Coruña", "Lugo", "Ourense", "Pontevedra"}},
	{Name: "La Rioja", Flag: "🍷", Provinces: []string{"La Rioja"}},
	{Name: "Madrid", Flag: "🏙️", Provinces: []string{"Madrid"}},
	{Name: "Melilla", Flag: "🏰", Provinces: []string{"Melilla"}},
	{Name: "Murcia", Flag: "🌵", Provinces: []string{"Murcia"}},
	{Name: "Navarra", Flag: "🛡️", Provinces: []string{"Navarra"}},
	{Name: "País Vasco", Flag: "⚓", Provinces: []string{"Álava", "Guipúzcoa", "Vizcaya"}},
}

// Co-official spellings users commonly type.
var aliases = map[string]string{
	"a coruna":       "La Coruña",
	"coruna":         "La Coruña",
	"araba":          "Álava",
	"gipuzkoa":       "Guipúzcoa",
	"bizkaia":        "Vizcaya",
	"illes balears":  "Baleares",
	"islas baleares": "Baleares",
	"castello":       "Castellón",
	"alacant":        "Alicante",
	"tenerife":       "Santa Cruz de Tenerife",
	"orense":         "Ourense",
	"gerona":         "Girona",
	"lerida":         "Lleida",
}

var index = buildIndex()

func buildIndex() map[string]Province {
	idx := map[string]Province{}
	for _, r := range regions {
		for _, p := range r.Provinces {
			idx[fold(p)] = Province{Name: p, Region: r.Name}
		}
	}
	for a, canonical := range aliases {
		idx[a] = idx[fold(canonical)]
	}
	return idx
}

// Province is a catalog entry.
type Province struct {
	Name   string
	Region string
}

// Regions returns the catalog sorted by region name.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	sort.Slice(out, func(i, j int) bool { return fold(out[i].Name) < fold(out[j].Name) })
	return out
}

// Lookup finds a province ignoring case, accents and surrounding blanks.
func Lookup(name string) (Province, bool) {
	p, ok := index[fold(name)]
	return p, ok
}

// ProvinceCount is the number of catalog provinces.
func ProvinceCount() int {
	n := 0
	for _, r := range regions {
		n += len(r.Provinces)
	}
	return n
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
