package lifecycle

import (
	"fok-catalog/go-backend/pkg/models"
)

// transitionGraph holds the allowed status edges. Terminal statuses have no
// entry, so every edge out of them is rejected.
var transitionGraph = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.StatusPending:     {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:    {models.StatusTransferred, models.StatusCompleted, models.StatusCancelled},
	models.StatusTransferred: {models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether the edge from -> to exists in the graph.
func CanTransition(from, to models.ApplicationStatus) bool {
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from the given one, in graph
// order. Terminal statuses yield nil.
func NextStatuses(from models.ApplicationStatus) []models.ApplicationStatus {
	edges := transitionGraph[from]
	if len(edges) == 0 {
		return nil
	}
	return append([]models.ApplicationStatus(nil), edges...)
}
