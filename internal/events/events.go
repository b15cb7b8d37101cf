// Package events defines the uniform status envelope broadcast during an
// unmask run. The vocabulary mirrors the messages the web app already
// understands: STARTED, PROCESSING, ORDER_SUCCESS, ORDER_FAILED, COMPLETED,
// STOPPED and a run-level ERROR.
package events

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeConnected    Type = "CONNECTED"
	TypeStatus       Type = "STATUS"
	TypeLoginSuccess Type = "LOGIN_SUCCESS"
	TypeStarted      Type = "STARTED"
	TypeProcessing   Type = "PROCESSING"
	TypeOrderSuccess Type = "ORDER_SUCCESS"
	TypeOrderFailed  Type = "ORDER_FAILED"
	TypeCompleted    Type = "COMPLETED"
	TypeStopped      Type = "STOPPED"
	TypeError        Type = "ERROR"
)

// Counters is the progress snapshot attached to every per-order event.
// succeeded + failed always equals processed.
type Counters struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// Event is the wire envelope. Zero-valued fields are omitted so small events
// stay small on the subscription channel.
type Event struct {
	Type         Type      `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	OrderIDShort string    `json:"order_id_short,omitempty"`
	Index        int       `json:"index,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Name         string    `json:"name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	ShopName     string    `json:"shop_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	IsRunning    bool      `json:"is_running"`
	Counters
}

// ShortOrderID is the display suffix used on per-order events.
func ShortOrderID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func newEvent(t Type, runID string) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), RunID: runID}
}

func Started(runID string, total int) Event {
	e := newEvent(TypeStarted, runID)
	e.Message = fmt.Sprintf("Processing %d orders", total)
	e.Total = total
	e.IsRunning = true
	return e
}

func Processing(runID, orderID string, index int, c Counters) Event {
	e := newEvent(TypeProcessing, runID)
	e.OrderID = orderID
	e.OrderIDShort = ShortOrderID(orderID)
	e.Index = index
	e.Counters = c
	e.IsRunning = true
	return e
}

func OrderSuccess(runID, orderID, name, phone, address string, c Counters) Event {
	e := newEvent(TypeOrderSuccess, runID)
	e.OrderID = orderID
	e.OrderIDShort = ShortOrderID(orderID)
	e.Name = name
	e.Phone = phone
	e.Address = truncate(address, 40)
	e.Counters = c
	e.IsRunning = true
	return e
}

func OrderFailed(runID, orderID, reason string, c Counters) Event {
	e := newEvent(TypeOrderFailed, runID)
	e.OrderID = orderID
	e.OrderIDShort = ShortOrderID(orderID)
	e.Reason = reason
	e.Counters = c
	e.IsRunning = true
	return e
}

func Completed(runID string, c Counters) Event {
	e := newEvent(TypeCompleted, runID)
	e.Message = "All orders processed"
	e.Counters = c
	return e
}

func Stopped(runID string, c Counters) Event {
	e := newEvent(TypeStopped, runID)
	e.Counters = c
	return e
}

func RunError(runID, message string) Event {
	e := newEvent(TypeError, runID)
	e.Message = message
	return e
}

func Status(message string) Event {
	e := newEvent(TypeStatus, "")
	e.Message = message
	return e
}

func LoginSuccess(email, shopName string) Event {
	e := newEvent(TypeLoginSuccess, "")
	e.Email = email
	e.ShopName = shopName
	return e
}

// Connected is the handshake sent to a subscriber on attach. There is no
// replay buffer; the snapshot is all a late subscriber gets.
func Connected(isRunning bool, c Counters) Event {
	e := newEvent(TypeConnected, "")
	e.IsRunning = isRunning
	e.Counters = c
	return e
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
