package service

import "github.com/mmeshcher/clubpoints-system/internal/model"

// Типы действий, за которые начисляются баллы. Таблица фиксирована: начисление
// за неизвестный тип отклоняется.
const (
	ActionEventRegistration = "event_registration"
	ActionEventAttendance   = "event_attendance"
	ActionEventOrganization = "event_organization"
	ActionPost              = "post"
	ActionFirstPost         = "first_post"
	ActionComment           = "comment"
	ActionHelpfulComment    = "helpful_comment"
	ActionReactionReceived  = "reaction_received"
	ActionReferral          = "referral"
	ActionMembershipRenewal = "membership_renewal"
	ActionWelcomeBonus      = "welcome_bonus"
)

type actionConfig struct {
	Points int64
	Kind   model.TransactionKind
	Reason string
}

var actionTable = map[string]actionConfig{
	ActionEventRegistration: {Points: 10, Kind: model.TransactionEarn, Reason: "Event registration"},
	ActionEventAttendance:   {Points: 50, Kind: model.TransactionEarn, Reason: "Event attendance"},
	ActionEventOrganization: {Points: 500, Kind: model.TransactionEarn, Reason: "Event organization"},
	ActionPost:              {Points: 10, Kind: model.TransactionEarn, Reason: "Community post"},
	ActionFirstPost:         {Points: 50, Kind: model.TransactionEarn, Reason: "First community post"},
	ActionComment:           {Points: 2, Kind: model.TransactionEarn, Reason: "Community comment"},
	ActionHelpfulComment:    {Points: 5, Kind: model.TransactionEarn, Reason: "Helpful comment"},
	ActionReactionReceived:  {Points: 1, Kind: model.TransactionEarn, Reason: "Reaction received"},
	ActionReferral:          {Points: 300, Kind: model.TransactionEarn, Reason: "Member referral"},
	ActionMembershipRenewal: {Points: 200, Kind: model.TransactionEarn, Reason: "Membership renewal"},
	ActionWelcomeBonus:      {Points: 100, Kind: model.TransactionBonus, Reason: "Welcome bonus"},
}

func actionByType(actionType string) (actionConfig, bool) {
	a, ok := actionTable[actionType]
	return a, ok
}
