// Package simulation replays many rounds of rated matches between synthetic
// players to show how the trophy table distributes players over time.
package simulation

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"matchmaking-system/services"
)

const (
	DefaultUsers  = 1000
	DefaultRounds = 5000
)

// winRateShares are the population shares of the win rates in winRates,
// lowest first. Players past the last share get the highest win rate.
var (
	winRateShares = []float64{0.0168, 0.0444, 0.0934, 0.15, 0.1951, 0.1943, 0.1517, 0.0928, 0.0446}
	winRates      = []int{5, 15, 25, 35, 45, 55, 65, 75, 85, 95}
)

type Options struct {
	Users         int
	Rounds        int
	Seed          int64
	RecordChanges bool
	// Engine defaults to the production bracket table.
	Engine *services.RatingEngine
}

type User struct {
	ID      string `json:"id"`
	Trophy  int    `json:"trophy"`
	WinRate int    `json:"win_rate"`
}

// Change is one simulated match as seen before it was applied.
type Change struct {
	UserATrophy          int `json:"userATrophy"`
	UserBTrophy          int `json:"userBTrophy"`
	TrophyChangeForUserA int `json:"trophyChangeForUserA"`
	TrophyChangeForUserB int `json:"trophyChangeForUserB"`
}

type Result struct {
	Users   []User
	Changes []Change
	Matches int
}

// WinRateFor returns the win rate of the player at index in a population of
// total players.
func WinRateFor(total, index int) int {
	cumulative := 0.0
	for i, share := range winRateShares {
		cumulative += share
		if float64(index) < float64(total)*cumulative {
			return winRates[i]
		}
	}
	return winRates[len(winRates)-1]
}

// Run plays opts.Rounds rounds. Every round pairs neighbours in trophy order
// (0 with 1, 2 with 3, ...), draws the winner from the two win rates and
// re-sorts the players by trophies.
func Run(opts Options) (*Result, error) {
	if opts.Users <= 0 {
		opts.Users = DefaultUsers
	}
	if opts.Rounds < 0 {
		return nil, eris.Errorf("rounds must not be negative, got %d", opts.Rounds)
	}
	engine := opts.Engine
	if engine == nil {
		engine = services.MustRatingEngine(services.DefaultBrackets)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	users := make([]User, opts.Users)
	for i := range users {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, eris.Wrap(err, "failed to generate user id")
		}
		users[i] = User{ID: id.String(), WinRate: WinRateFor(opts.Users, i)}
	}

	res := &Result{}
	if opts.RecordChanges {
		res.Changes = make([]Change, 0, opts.Rounds*(opts.Users/2))
	}

	for round := 0; round < opts.Rounds; round++ {
		for i := 0; i+1 < len(users); i += 2 {
			a, b := &users[i], &users[i+1]

			outcome := services.OutcomeLose
			if rng.Float64() < float64(a.WinRate)/float64(a.WinRate+b.WinRate) {
				outcome = services.OutcomeWin
			}

			deltaA, err := engine.Change(a.Trophy, b.Trophy, outcome)
			if err != nil {
				return nil, err
			}
			deltaB, err := engine.Change(b.Trophy, a.Trophy, outcome.Opposite())
			if err != nil {
				return nil, err
			}

			if opts.RecordChanges {
				res.Changes = append(res.Changes, Change{
					UserATrophy:          a.Trophy,
					UserBTrophy:          b.Trophy,
					TrophyChangeForUserA: deltaA,
					TrophyChangeForUserB: deltaB,
				})
			}
			a.Trophy = services.ApplyDelta(a.Trophy, deltaA)
			b.Trophy = services.ApplyDelta(b.Trophy, deltaB)
			res.Matches++
		}
		sort.SliceStable(users, func(i, j int) bool { return users[i].Trophy < users[j].Trophy })

		if (round+1)%1000 == 0 {
			log.Debug().Int("round", round+1).Int("max_trophy", users[len(users)-1].Trophy).Msg("simulation progress")
		}
	}

	res.Users = users
	return res, nil
}

// TrophyJSON renders every player as "<trophy> <winRate>" in trophy order.
func (r *Result) TrophyJSON() ([]byte, error) {
	lines := make([]string, len(r.Users))
	for i, u := range r.Users {
		lines[i] = fmt.Sprintf("%d %d", u.Trophy, u.WinRate)
	}
	out, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode trophies")
	}
	return out, nil
}

func (r *Result) ChangesJSON() ([]byte, error) {
	changes := r.Changes
	if changes == nil {
		changes = []Change{}
	}
	out, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode changes")
	}
	return out, nil
}

// BucketStat aggregates the players sharing one win rate.
type BucketStat struct {
	WinRate    int
	Users      int
	MinTrophy  int
	MaxTrophy  int
	MeanTrophy float64
}

// Summary returns one BucketStat per win rate present, lowest win rate first.
func (r *Result) Summary() []BucketStat {
	byRate := make(map[int]*BucketStat)
	sums := make(map[int]int)
	for _, u := range r.Users {
		s, ok := byRate[u.WinRate]
		if !ok {
			s = &BucketStat{WinRate: u.WinRate, MinTrophy: u.Trophy, MaxTrophy: u.Trophy}
			byRate[u.WinRate] = s
		}
		s.Users++
		s.MinTrophy = min(s.MinTrophy, u.Trophy)
		s.MaxTrophy = max(s.MaxTrophy, u.Trophy)
		sums[u.WinRate] += u.Trophy
	}

	stats := make([]BucketStat, 0, len(byRate))
	for rate, s := range byRate {
		s.MeanTrophy = float64(sums[rate]) / float64(s.Users)
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].WinRate < stats[j].WinRate })
	return stats
}
