package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func request(id string, priority int, urgency models.Urgency, dueIn time.Duration) models.Request {
	return models.Request{
		ID:         id,
		Priority:   priority,
		Urgency:    urgency,
		RequiredBy: now.Add(dueIn),
		CreatedAt:  now.Add(-time.Hour),
		Status:     models.RequestPending,
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		name string
		req  models.Request
		want float64
	}{
		{"routine far", request("a", 1, models.UrgencyRoutine, 72*time.Hour), 10},
		{"urgent within day", request("b", 3, models.UrgencyUrgent, 20*time.Hour), 30 * 2 * 2},
		{"emergency within hours", request("c", 5, models.UrgencyEmergency, 2*time.Hour), 50 * 3 * 3},
		{"exactly four hours", request("d", 2, models.UrgencyRoutine, 4*time.Hour), 20 * 3},
		{"exactly a day", request("e", 2, models.UrgencyRoutine, 24*time.Hour), 20 * 2},
		{"overdue", request("f", 2, models.UrgencyUrgent, -time.Hour), 20 * 2 * 3},
		{"priority clamped", request("g", 9, models.UrgencyRoutine, 72*time.Hour), 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Score(tc.req, now))
		})
	}
}

func TestScoreMonotonicInUrgency(t *testing.T) {
	urgencies := []models.Urgency{models.UrgencyRoutine, models.UrgencyUrgent, models.UrgencyEmergency}
	for p := models.MinPriority; p <= models.MaxPriority; p++ {
		for _, due := range []time.Duration{time.Hour, 10 * time.Hour, 100 * time.Hour} {
			prev := -1.0
			for _, u := range urgencies {
				s := Score(request("x", p, u, due), now)
				assert.GreaterOrEqual(t, s, prev)
				prev = s
			}
		}
	}
}

func TestScoreMonotonicInDeadline(t *testing.T) {
	dues := []time.Duration{200 * time.Hour, 48 * time.Hour, 24 * time.Hour, 5 * time.Hour, 4 * time.Hour, time.Minute, -time.Hour}
	for _, u := range []models.Urgency{models.UrgencyRoutine, models.UrgencyEmergency} {
		prev := -1.0
		for _, due := range dues {
			s := Score(request("x", 3, u, due), now)
			assert.GreaterOrEqual(t, s, prev, "due in %s", due)
			prev = s
		}
	}
}

func TestLessIsTotal(t *testing.T) {
	a := request("a", 3, models.UrgencyUrgent, 30*time.Hour)
	b := request("b", 3, models.UrgencyUrgent, 40*time.Hour)
	assert.True(t, Less(a, b, now), "earlier deadline wins on equal score")
	assert.False(t, Less(b, a, now))

	c := a
	c.ID = "c"
	c.CreatedAt = a.CreatedAt.Add(time.Minute)
	assert.True(t, Less(a, c, now), "earlier creation wins")

	d := a
	d.ID = "d"
	assert.True(t, Less(a, d, now))
	assert.False(t, Less(d, a, now))
	assert.False(t, Less(a, a, now))
}

func TestSort(t *testing.T) {
	reqs := []models.Request{
		request("routine", 5, models.UrgencyRoutine, 72*time.Hour),
		request("emergency", 1, models.UrgencyEmergency, 2*time.Hour),
		request("urgent", 4, models.UrgencyUrgent, 12*time.Hour),
	}
	Sort(reqs, now)

	ids := []string{reqs[0].ID, reqs[1].ID, reqs[2].ID}
	assert.Equal(t, []string{"urgent", "emergency", "routine"}, ids)
}
