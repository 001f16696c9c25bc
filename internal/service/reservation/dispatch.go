package reservation

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Dispatch finalizes reserved units as shipped to destination and stamps the
// fulfillment records of the requests that held them. A request whose
// assignments cover the full demand and have all shipped becomes fulfilled.
func (c *Coordinator) Dispatch(unitIDs []string, destination string, now time.Time) (Outcome, error) {
	var out Outcome
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return out, fmt.Errorf("%w: destination is required", models.ErrInvalidInput)
	}

	changes, err := c.inventory.Dispatch(unitIDs, destination, now, c.opts.DispatchGrace)
	if err != nil {
		return out, err
	}

	byRequest := make(map[string][]string)
	for _, ch := range changes {
		out.addChange(ch)
		for unitID, reqID := range ch.Holders {
			byRequest[reqID] = append(byRequest[reqID], unitID)
		}
	}

	for _, reqID := range sortedKeys(byRequest) {
		e, err := c.lookup(reqID)
		if err != nil {
			c.logger.Warn("dispatched unit held by unknown request",
				zap.String("request_id", reqID),
				zap.Strings("unit_ids", byRequest[reqID]))
			continue
		}

		e.mu.Lock()
		req := &e.req
		shipped := markDispatched(req, byRequest[reqID], destination, now)
		if !req.Status.Terminal() {
			c.settle(req, now)
		}
		req.UpdatedAt = now
		req.Notes = append(req.Notes, models.Note{At: now, Text: fmt.Sprintf("%d unit(s) dispatched to %s", shipped, destination)})
		out.Requests = append(out.Requests, req.Clone())
		status := req.Status
		percent := req.FulfillmentPercent()
		e.mu.Unlock()

		c.logger.Info("units dispatched",
			zap.String("request_id", reqID),
			zap.Int("units", shipped),
			zap.String("destination", destination),
			zap.String("status", string(status)),
			zap.Float64("fulfillment_percent", percent))
	}
	return out, nil
}

// ConfirmReceipt records that the hospital received every dispatched unit of
// the request that was not yet acknowledged.
func (c *Coordinator) ConfirmReceipt(requestID string, now time.Time) (models.Request, error) {
	e, err := c.lookup(requestID)
	if err != nil {
		return models.Request{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	req := &e.req

	received := 0
	for i := range req.Fulfillment.Assignments {
		a := &req.Fulfillment.Assignments[i]
		if a.DispatchedAt != nil && a.ReceivedAt == nil {
			at := now
			a.ReceivedAt = &at
			received++
		}
	}
	if received == 0 {
		return models.Request{}, fmt.Errorf("%w: request %s has no dispatched units awaiting receipt", models.ErrInvalidInput, requestID)
	}
	req.UpdatedAt = now
	req.Notes = append(req.Notes, models.Note{At: now, Text: fmt.Sprintf("%d unit(s) received", received)})
	return req.Clone(), nil
}

func markDispatched(req *models.Request, unitIDs []string, destination string, now time.Time) int {
	want := make(map[string]struct{}, len(unitIDs))
	for _, id := range unitIDs {
		want[id] = struct{}{}
	}
	shipped := 0
	for i := range req.Fulfillment.Assignments {
		a := &req.Fulfillment.Assignments[i]
		if _, ok := want[a.UnitID]; !ok {
			continue
		}
		at := now
		a.DispatchedAt = &at
		a.Destination = destination
		shipped++
	}
	return shipped
}
