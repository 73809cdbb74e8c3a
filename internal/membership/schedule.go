package membership

import "lamport/internal/platform/config"

// Schedule holds reward amounts. Energy costs are positive here and written to
// the ledger as negative entries.
type Schedule struct {
	RegisterEnergy int32
	InvitePoints   int32
	InviteEnergy   int32
	BindingPoints  int32
	BindingEnergy  int32
	VotePoints     int32
	VoteEnergy     int32
	ProposalPoints int32
	ProposalEnergy int32
}

func DefaultSchedule() Schedule {
	return Schedule{
		RegisterEnergy: 100,
		InvitePoints:   100,
		InviteEnergy:   10,
		BindingPoints:  50,
		BindingEnergy:  5,
		VotePoints:     10,
		VoteEnergy:     1,
		ProposalPoints: 20,
		ProposalEnergy: 10,
	}
}

// ScheduleFromConfig applies non-zero overrides on top of DefaultSchedule.
func ScheduleFromConfig(r config.Rewards) Schedule {
	s := DefaultSchedule()
	override(&s.RegisterEnergy, r.RegisterEnergy)
	override(&s.InvitePoints, r.InvitePoints)
	override(&s.InviteEnergy, r.InviteEnergy)
	override(&s.BindingPoints, r.BindingPoints)
	override(&s.BindingEnergy, r.BindingEnergy)
	override(&s.VotePoints, r.VotePoints)
	override(&s.VoteEnergy, r.VoteEnergy)
	override(&s.ProposalPoints, r.ProposalPoints)
	override(&s.ProposalEnergy, r.ProposalEnergy)
	return s
}

func override(dst *int32, v int32) {
	if v != 0 {
		*dst = v
	}
}
