package defrag

import (
	"sort"

	"github.com/grycap/vmca/internal/policy"
	"github.com/grycap/vmca/internal/resource"
)

// bfCandidate is one host's candidate evacuation list, evaluated over an
// independent clone of the working snapshot, extended with the originating
// host so RefilterHostsToEmpty can be driven unambiguously.
type bfCandidate struct {
	Host       string
	Migrations []resource.VMMigration
	Cost       float64
	Reward     float64
}

// BestFitOrdering selects the winning candidate among all hosts-to-empty
// evaluated this iteration, by one of eight cost/reward orderings.
type BestFitOrdering func(candidates []bfCandidate) (bfCandidate, bool)

func selectBy(less func(a, b bfCandidate) bool) BestFitOrdering {
	return func(candidates []bfCandidate) (bfCandidate, bool) {
		var nonEmpty []bfCandidate
		for _, c := range candidates {
			if len(c.Migrations) > 0 {
				nonEmpty = append(nonEmpty, c)
			}
		}
		if len(nonEmpty) == 0 {
			return bfCandidate{}, false
		}
		sort.SliceStable(nonEmpty, func(i, j int) bool { return less(nonEmpty[i], nonEmpty[j]) })
		return nonEmpty[0], true
	}
}

// Selection orderings. BestFitCost and BestFitCostPerReward pick the
// smallest value first and their "d" variants the greatest; BestFitReward
// and BestFitRewardPerCost pick the greatest first and their "d" variants
// the smallest.
var (
	BestFitCost  = selectBy(func(a, b bfCandidate) bool { return a.Cost < b.Cost })
	BestFitdCost = selectBy(func(a, b bfCandidate) bool { return a.Cost > b.Cost })

	BestFitReward  = selectBy(func(a, b bfCandidate) bool { return a.Reward > b.Reward })
	BestFitdReward = selectBy(func(a, b bfCandidate) bool { return a.Reward < b.Reward })

	BestFitRewardPerCost = selectBy(func(a, b bfCandidate) bool {
		return policy.RewardPerCost(a.Cost, a.Reward) > policy.RewardPerCost(b.Cost, b.Reward)
	})
	BestFitdRewardPerCost = selectBy(func(a, b bfCandidate) bool {
		return policy.RewardPerCost(a.Cost, a.Reward) < policy.RewardPerCost(b.Cost, b.Reward)
	})

	BestFitCostPerReward = selectBy(func(a, b bfCandidate) bool {
		return policy.CostPerReward(a.Cost, a.Reward) < policy.CostPerReward(b.Cost, b.Reward)
	})
	BestFitdCostPerReward = selectBy(func(a, b bfCandidate) bool {
		return policy.CostPerReward(a.Cost, a.Reward) > policy.CostPerReward(b.Cost, b.Reward)
	})
)

// BestFit computes an evacuation candidate for every host-to-empty each
// outer iteration (each over an independent clone), lets the Reward policy
// re-evaluate the whole candidate set, picks one winner via Ordering, and
// applies only that winner before looping.
type BestFit struct {
	Base
	Ordering BestFitOrdering
}

// NewBestFit builds a BestFit defragmenter. ordering selects one of the
// BestFit* orderings above; it defaults to BestFitReward (greater reward
// first) when nil.
func NewBestFit(c Config, ordering BestFitOrdering) *BestFit {
	if ordering == nil {
		ordering = BestFitReward
	}
	return &BestFit{Base: NewBase(c), Ordering: ordering}
}

func (d *BestFit) Defrag(snapshot *resource.HostsInfo, hostsFixed, vmsFixed []string) (PlanValue, error) {
	hi := snapshot.Clone()
	if err := hi.Normalize(); err != nil {
		d.logger().Error("cannot normalize resources, returning empty plan", "err", err)
		return nil, nil
	}

	toEmptyHosts := hostsToEmpty(hi, hostsFixed)
	fixedVMs := toSet(vmsFixed)

	filtered := d.FilterHostsToEmpty(hi, toEmptyHosts, fixedVMs)
	destCandidates := d.PrefilterPossibleDestinations(hi)

	var plan PlanValue
	for len(filtered) > 0 {
		candidates := make([]bfCandidate, 0, len(filtered))
		for _, host := range filtered {
			sim := hi.Clone()
			migrations := d.ScheduleVMsFromHost(sim, host, destCandidates, fixedVMs, true)
			migrations = d.FilterMigrationsForHost(hi, host, migrations)

			c := bfCandidate{Host: host, Migrations: migrations}
			for _, m := range migrations {
				c.Cost += m.Cost
			}
			c.Reward = d.Reward.Reward(hi, sim, migrations)
			candidates = append(candidates, c)
		}

		winner, ok := d.Ordering(candidates)
		if !ok || len(winner.Migrations) == 0 {
			d.logger().Debug("no evacuation candidate made progress this iteration")
			break
		}

		d.MakeMigrations(hi, winner.Migrations)
		plan = append(plan, EvaluatedPlan{Migrations: winner.Migrations, Cost: winner.Cost, Reward: winner.Reward})

		filtered = d.RefilterHostsToEmpty(hi, winner.Host, filtered, winner.Migrations)
	}
	return plan, nil
}
