package ingest

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Synthetic fallback data. The generator takes an explicit seed so runs are
// reproducible in tests; city weights decide how many records each city
// contributes.

// flagshipNames seeds the first slots per city with recognizable project
// names so fallback dashboards stay plausible.
var flagshipNames = map[string][]string{
	"Ahmedabad":   {"Godrej Garden City", "Adani Shantigram", "Applewoods Township", "Arvind Uplands", "Iscon Platinum"},
	"Surat":       {"Dream City Residency", "Rajhans Synfonia", "Sangini Terraza", "Happy Excellencia"},
	"Vadodara":    {"Alembic Urban Forest", "Darshanam Clublife", "Narayan Esteva"},
	"Rajkot":      {"Sadbhav Homes", "Shivalik Heights", "Silver Stone Arcade"},
	"Gandhinagar": {"Swarnim Skydecks", "Shaligram Lakeview"},
}

var syntheticLocalities = map[string][]string{
	"Ahmedabad":   {"Bopal", "Gota", "Shela", "Vastrapur", "Chandkheda", "Naroda"},
	"Surat":       {"Vesu", "Adajan", "Pal", "Dumas", "Katargam"},
	"Vadodara":    {"Alkapuri", "Gotri", "Waghodia", "Manjalpur"},
	"Rajkot":      {"Kalawad Road", "Mavdi", "Raiya Road"},
	"Gandhinagar": {"Kudasan", "Sargasan", "Raysan"},
}

var syntheticPromoters = []string{
	"Shree Siddhi Developers", "Pramukh Infracon", "Avirat Group",
	"Satyam Buildcon", "Shivalik Projects", "Sun Builders",
	"Nila Spaces", "Ganesh Housing", "Deep Infrastructure",
}

var syntheticSuffixes = []string{"Heights", "Residency", "Greens", "Elegance", "Skyline", "Enclave", "Paradise", "Avenue"}

var syntheticTypes = []string{"Residential", "Residential", "Residential", "Commercial", "Mixed", "Plotted"}

var syntheticStatuses = []string{"Ongoing", "Ongoing", "New", "Completed"}

// Generator produces internally-consistent fallback records.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator from an explicit seed. Randomness is an
// injected dependency here, never a process-wide default.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate produces targetCount raw records per city. Registration ids are
// deterministic and collision-free: city + locality + sequence + a date-ish
// suffix drawn from the seeded rng. The normalizer derives booking
// percentage from the generated unit counts; the generator never invents
// the percentage independently.
func (g *Generator) Generate(cityWeights map[string]int) []RawRecord {
	cities := make([]string, 0, len(cityWeights))
	for city := range cityWeights {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	var records []RawRecord
	for _, city := range cities {
		count := cityWeights[city]
		for seq := 1; seq <= count; seq++ {
			records = append(records, g.generateOne(city, seq))
		}
	}
	return records
}

func (g *Generator) generateOne(city string, seq int) RawRecord {
	localities := syntheticLocalities[city]
	if len(localities) == 0 {
		localities = []string{"Central"}
	}
	locality := localities[g.rng.Intn(len(localities))]
	promoter := syntheticPromoters[g.rng.Intn(len(syntheticPromoters))]

	var name string
	if flagships := flagshipNames[city]; seq <= len(flagships) {
		name = flagships[seq-1]
	} else {
		name = fmt.Sprintf("%s %s %s",
			strings.Fields(promoter)[0], locality, syntheticSuffixes[g.rng.Intn(len(syntheticSuffixes))])
	}

	day := 1 + g.rng.Intn(28)
	month := 1 + g.rng.Intn(12)
	year := 2019 + g.rng.Intn(6)

	regID := fmt.Sprintf("PR/GJ/%s/%s/SYN%05d/%02d%02d%02d",
		strings.ToUpper(city), strings.ToUpper(strings.ReplaceAll(locality, " ", "")),
		seq, day, month, year%100)

	totalUnits := 40 + g.rng.Intn(560)
	availableUnits := g.rng.Intn(totalUnits + 1)
	completionYear := year + 2 + g.rng.Intn(4)

	return RawRecord{
		Fields: map[string]string{
			fieldRegistrationID: regID,
			fieldProjectName:    name,
			fieldPromoterName:   promoter,
			fieldProjectType:    syntheticTypes[g.rng.Intn(len(syntheticTypes))],
			fieldProjectStatus:  syntheticStatuses[g.rng.Intn(len(syntheticStatuses))],
			fieldDistrict:       city,
			fieldLocality:       locality,
			fieldPincode:        strconv.Itoa(380001 + g.rng.Intn(15000)),
			fieldApprovedOn:     fmt.Sprintf("%02d-%02d-%d", day, month, year),
			fieldCompletionDate: fmt.Sprintf("%02d-%02d-%d", day, month, completionYear),
			fieldTotalUnits:     strconv.Itoa(totalUnits),
			fieldAvailableUnits: strconv.Itoa(availableUnits),
			fieldProjectArea:    strconv.Itoa(2000 + g.rng.Intn(48000)),
			fieldTotalBuildings: strconv.Itoa(1 + g.rng.Intn(12)),
		},
	}
}
