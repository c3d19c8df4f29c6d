package domain

// allowedTransitions lists every legal status change. Only paused -> active moves backwards.
var allowedTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusReady, CampaignStatusScheduled, CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusReady:     {CampaignStatusScheduled, CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusActive, CampaignStatusCancelled},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may transition into to.
func SourcesFor(to CampaignStatus) []CampaignStatus {
	var sources []CampaignStatus
	for _, from := range []CampaignStatus{
		CampaignStatusDraft, CampaignStatusReady, CampaignStatusScheduled,
		CampaignStatusActive, CampaignStatusPaused,
	} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}
