package models

import "database/sql/driver"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled" // reserved, no transition leads here
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCanceled  CampaignStatus = "canceled"
)

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	return parseEnum("campaign status", s,
		CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignCanceled)
}

func (s *CampaignStatus) Scan(src any) error          { return scanEnum(s, src, ParseCampaignStatus) }
func (s CampaignStatus) Value() (driver.Value, error) { return enumValue(s, ParseCampaignStatus) }

// IsFinal reports whether no further action is possible.
func (s CampaignStatus) IsFinal() bool {
	return s == CampaignCompleted || s == CampaignCanceled
}

type CampaignAction string

const (
	ActionStart    CampaignAction = "start"
	ActionPause    CampaignAction = "pause"
	ActionResume   CampaignAction = "resume"
	ActionCancel   CampaignAction = "cancel"
	ActionComplete CampaignAction = "complete"
	ActionEdit     CampaignAction = "edit"
)

// campaignTransitions lists, per action, the statuses it may be applied in
// and the status it leads to. Edit keeps the status.
var campaignTransitions = map[CampaignAction]struct {
	from []CampaignStatus
	to   CampaignStatus
}{
	ActionStart:    {from: []CampaignStatus{CampaignDraft}, to: CampaignRunning},
	ActionPause:    {from: []CampaignStatus{CampaignRunning}, to: CampaignPaused},
	ActionResume:   {from: []CampaignStatus{CampaignPaused}, to: CampaignRunning},
	ActionCancel:   {from: []CampaignStatus{CampaignDraft, CampaignScheduled, CampaignRunning, CampaignPaused}, to: CampaignCanceled},
	ActionComplete: {from: []CampaignStatus{CampaignRunning}, to: CampaignCompleted},
	ActionEdit:     {from: []CampaignStatus{CampaignDraft}, to: CampaignDraft},
}

// NextCampaignStatus returns the status reached by applying action in
// current, or an InvalidTransition error naming both.
func NextCampaignStatus(current CampaignStatus, action CampaignAction) (CampaignStatus, error) {
	t, ok := campaignTransitions[action]
	if !ok {
		return current, NewInvalidTransition("campaign", string(current), string(action))
	}
	for _, from := range t.from {
		if from == current {
			return t.to, nil
		}
	}
	return current, NewInvalidTransition("campaign", string(current), string(action))
}
