package lifecycle

import (
	"testing"

	"fok-catalog/go-backend/pkg/models"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to models.ApplicationStatus }{
		{models.StatusPending, models.StatusAccepted},
		{models.StatusPending, models.StatusCancelled},
		{models.StatusAccepted, models.StatusTransferred},
		{models.StatusAccepted, models.StatusCompleted},
		{models.StatusAccepted, models.StatusCancelled},
		{models.StatusTransferred, models.StatusCompleted},
		{models.StatusTransferred, models.StatusCancelled},
	}
	for _, edge := range allowed {
		if !CanTransition(edge.from, edge.to) {
			t.Fatalf("%s -> %s must be allowed", edge.from, edge.to)
		}
	}

	statuses := []models.ApplicationStatus{
		models.StatusPending, models.StatusAccepted, models.StatusTransferred,
		models.StatusCompleted, models.StatusCancelled,
	}
	allowedSet := make(map[[2]models.ApplicationStatus]bool, len(allowed))
	for _, edge := range allowed {
		allowedSet[[2]models.ApplicationStatus{edge.from, edge.to}] = true
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if allowedSet[[2]models.ApplicationStatus{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Fatalf("%s -> %s must be rejected", from, to)
			}
		}
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	t.Parallel()

	for _, status := range []models.ApplicationStatus{models.StatusCompleted, models.StatusCancelled} {
		if got := NextStatuses(status); got != nil {
			t.Fatalf("terminal status %s has outgoing edges: %v", status, got)
		}
	}
	if got := NextStatuses(models.StatusAccepted); len(got) != 3 {
		t.Fatalf("accepted edge count mismatch: got=%d want=3", len(got))
	}
}
