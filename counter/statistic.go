package counter

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Branch groups statistics and goals by organisational division.
type Branch string

const (
	BranchMain     Branch = "main"
	BranchLegion   Branch = "legion"
	BranchNavy     Branch = "navy"
	BranchIndustry Branch = "industry"
)

// Branches lists every branch, main first.
func Branches() []Branch {
	return []Branch{BranchMain, BranchNavy, BranchLegion, BranchIndustry}
}

// Valid reports whether b is a known branch.
func (b Branch) Valid() bool {
	switch b {
	case BranchMain, BranchLegion, BranchNavy, BranchIndustry:
		return true
	}
	return false
}

// Known statistics. Any other well-formed name is a tracker statistic.
const (
	StatLegionKills            Statistic = "legion_kills"
	StatIndustryProfit         Statistic = "industry_profit"
	StatNavalVictories         Statistic = "naval_victories"
	StatNavalTackleAssists     Statistic = "naval_tackle_assists"
	StatEventParticipation     Statistic = "event_participation"
	StatIndustryPersonnelSaved Statistic = "industry_personnel_saved"
)

// StatisticInfo is display metadata for a known statistic.
type StatisticInfo struct {
	Name   Statistic `json:"name"`
	Branch Branch    `json:"branch"`
	Title  string    `json:"title"`
	Unit   string    `json:"unit"`
	// Scale is how many stored units make one displayed unit. Victories
	// are recorded in fourths so partial credit stays exact.
	Scale int64 `json:"scale"`
}

// Display converts a stored total to its displayed value.
func (s StatisticInfo) Display(total decimal.Decimal) decimal.Decimal {
	if s.Scale <= 1 {
		return total
	}
	return total.Div(decimal.NewFromInt(s.Scale))
}

// Store converts a displayed amount to stored units. It is the inverse of
// Display.
func (s StatisticInfo) Store(amount decimal.Decimal) decimal.Decimal {
	if s.Scale <= 1 {
		return amount
	}
	return amount.Mul(decimal.NewFromInt(s.Scale))
}

var catalog = map[Statistic]StatisticInfo{
	StatLegionKills:            {Name: StatLegionKills, Branch: BranchLegion, Title: "Kills", Unit: "kills", Scale: 1},
	StatIndustryProfit:         {Name: StatIndustryProfit, Branch: BranchIndustry, Title: "Profit", Unit: "aUEC", Scale: 1},
	StatNavalVictories:         {Name: StatNavalVictories, Branch: BranchNavy, Title: "Victories", Unit: "victories", Scale: 4},
	StatNavalTackleAssists:     {Name: StatNavalTackleAssists, Branch: BranchNavy, Title: "Tackle assists", Unit: "assists", Scale: 1},
	StatEventParticipation:     {Name: StatEventParticipation, Branch: BranchMain, Title: "Event participation", Unit: "events", Scale: 1},
	StatIndustryPersonnelSaved: {Name: StatIndustryPersonnelSaved, Branch: BranchIndustry, Title: "Personnel saved", Unit: "personnel", Scale: 1},
}

// LookupStatistic returns the metadata for stat. Unknown but well-formed
// statistics get a generic entry and false.
func LookupStatistic(stat Statistic) (StatisticInfo, bool) {
	if info, ok := catalog[stat]; ok {
		return info, true
	}
	return StatisticInfo{Name: stat, Branch: BranchMain, Title: string(stat), Scale: 1}, false
}

// Statistics returns the known statistics sorted by name.
func Statistics() []StatisticInfo {
	out := make([]StatisticInfo, 0, len(catalog))
	for _, info := range catalog {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
