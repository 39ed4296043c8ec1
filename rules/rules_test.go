package rules

import (
	"fmt"
	"time"

	"vigil/core"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testEvent(t core.EventType, offset time.Duration) core.Event {
	return core.Event{
		ID:        fmt.Sprintf("evt-%d", offset.Nanoseconds()),
		Type:      t,
		Timestamp: testNow.Add(offset),
	}
}

func loginSuccess(userID, ip, country string, offset time.Duration) core.Event {
	ev := testEvent(core.EventLoginSuccess, offset)
	ev.UserID = userID
	ev.IPAddress = ip
	if country != "" {
		ev.Metadata = map[string]string{core.MetaCountry: country}
	}
	return ev
}

func loginFailure(userID, ip string, offset time.Duration) core.Event {
	ev := testEvent(core.EventLoginFailure, offset)
	ev.UserID = userID
	ev.IPAddress = ip
	return ev
}

func contextFor(event core.Event, recent ...core.Event) *core.EventContext {
	return &core.EventContext{Event: event, RecentEvents: recent}
}
