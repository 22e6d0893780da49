package defrag

import "github.com/grycap/vmca/internal/resource"

// FirstFit is the strict all-or-nothing evacuation consolidator: it picks
// one host at a time to empty, accepts the evacuation only if every VM
// could be rescheduled, and moves to the next host.
type FirstFit struct {
	Base
}

// NewFirstFit builds a FirstFit defragmenter with the given policy
// configuration, defaulting unset fields to plain First-Fit behavior.
func NewFirstFit(c Config) *FirstFit {
	return &FirstFit{Base: NewBase(c)}
}

func (d *FirstFit) Defrag(snapshot *resource.HostsInfo, hostsFixed, vmsFixed []string) (PlanValue, error) {
	hi := snapshot.Clone()
	if err := hi.Normalize(); err != nil {
		d.logger().Error("cannot normalize resources, returning empty plan", "err", err)
		return nil, nil
	}

	toEmpty := hostsToEmpty(hi, hostsFixed)
	fixedVMs := toSet(vmsFixed)

	filtered := d.FilterHostsToEmpty(hi, toEmpty, fixedVMs)
	destCandidates := d.PrefilterPossibleDestinations(hi)

	var plan PlanValue
	iteration := 0
	for {
		current, ok := d.HostSelector.SelectHostToEmpty(hi, filtered)
		if !ok {
			d.logger().Debug("no node was selected to move its vms")
			break
		}
		d.logger().Debug("trying to move vms from node", "host", current)

		sim := hi.Clone()
		migrations := d.ScheduleVMsFromHost(sim, current, destCandidates, fixedVMs, true)
		migrations = d.FilterMigrationsForHost(hi, current, migrations)

		if len(migrations) > 0 {
			d.MakeMigrations(hi, migrations)
			plan = append(plan, newEvaluatedPlan(migrations))
		}

		filtered = d.RefilterHostsToEmpty(hi, current, filtered, migrations)

		iteration++
		if d.MaxIterations > 0 && iteration >= d.MaxIterations {
			break
		}
	}
	return plan, nil
}
