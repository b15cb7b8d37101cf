// Package store talks to the Supabase PostgREST API that holds accounts,
// seller credentials and orders. The store owns the merge of unmasked data
// into prior order state and the fully-resolved verdict; callers only see
// the commit boolean.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aqilrvsb/UNMASK-TIK/internal/extract"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// shippedStatuses are the order states worth unmasking; anything earlier can
// still change, anything else no longer needs the recipient data.
var shippedStatuses = map[string]bool{
	"AWAITING_COLLECTION": true,
	"IN_TRANSIT":          true,
	"DELIVERED":           true,
}

// Credential identifies one seller-center account.
type Credential struct {
	ID       string `json:"id"`
	ShopName string `json:"shop_name"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CredentialByEmail resolves an account email to its seller credential.
func (c *Client) CredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	var users []struct {
		ID string `json:"id"`
	}
	query := url.Values{"email": {"eq." + email}, "select": {"id"}}
	if err := c.get(ctx, "users", query, &users); err != nil {
		return nil, fmt.Errorf("user lookup failed: %v", err)
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}

	var credentials []Credential
	query = url.Values{"user_id": {"eq." + users[0].ID}, "select": {"id,shop_name"}}
	if err := c.get(ctx, "credentials", query, &credentials); err != nil {
		return nil, fmt.Errorf("credential lookup failed: %v", err)
	}
	if len(credentials) == 0 {
		return nil, ErrNotFound
	}
	return &credentials[0], nil
}

type orderRow struct {
	OrderID    string         `json:"order_id"`
	IsUnmasked bool           `json:"is_unmasked"`
	OrderData  map[string]any `json:"order_data"`
}

// MaskedOrders lists the order IDs still worth a run for a credential:
// shipped, not yet marked unmasked, and with at least one recipient field
// missing or still masked.
func (c *Client) MaskedOrders(ctx context.Context, credentialID string) ([]string, error) {
	var rows []orderRow
	query := url.Values{"credential_id": {"eq." + credentialID}, "select": {"*"}}
	if err := c.get(ctx, "orders", query, &rows); err != nil {
		return nil, fmt.Errorf("order listing failed: %v", err)
	}

	var ids []string
	for _, row := range rows {
		if row.IsUnmasked {
			continue
		}
		status, _ := row.OrderData["status"].(string)
		if !shippedStatuses[status] {
			continue
		}
		recipient, ok := row.OrderData["recipient_address"].(map[string]any)
		if !ok {
			continue
		}
		if fieldMasked(recipient, "name") ||
			fieldMasked(recipient, "phone_number") ||
			fieldMasked(recipient, "full_address") {
			ids = append(ids, row.OrderID)
		}
	}
	return ids, nil
}

func fieldMasked(recipient map[string]any, key string) bool {
	value, _ := recipient[key].(string)
	return value == "" || extract.IsMasked(value)
}

// CommitResult merges rec into the order's stored recipient data and writes
// it back. Newly recovered fields win; fields the run could not recover keep
// their previous value. The fully-resolved flag is recomputed from the
// merged record. The boolean is false when the order is unknown or the
// PATCH is rejected.
func (c *Client) CommitResult(ctx context.Context, orderID string, rec *extract.Record) (bool, error) {
	var rows []orderRow
	query := url.Values{"order_id": {"eq." + orderID}, "select": {"order_data"}}
	if err := c.get(ctx, "orders", query, &rows); err != nil {
		return false, fmt.Errorf("order fetch failed: %v", err)
	}
	if len(rows) == 0 {
		return false, nil
	}

	orderData := rows[0].OrderData
	if orderData == nil {
		orderData = map[string]any{}
	}
	recipient, _ := orderData["recipient_address"].(map[string]any)
	if recipient == nil {
		recipient = map[string]any{}
	}

	name := overlay(rec.Name, recipient, "name")
	phone := overlay(rec.Phone, recipient, "phone_number")
	address := overlay(rec.Address, recipient, "full_address")
	orderData["recipient_address"] = recipient

	isUnmasked := name != "" && !extract.IsMasked(name) &&
		phone != "" && !extract.IsMasked(phone) &&
		address != "" && !extract.IsMasked(address)

	body := map[string]any{
		"customer_name":    name,
		"customer_phone":   phone,
		"customer_address": address,
		"order_data":       orderData,
		"is_unmasked":      isUnmasked,
	}
	query = url.Values{"order_id": {"eq." + orderID}}
	resp, err := c.do(ctx, http.MethodPatch, "orders", query, body)
	if err != nil {
		return false, fmt.Errorf("order update failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// overlay writes value into recipient[key] when non-empty and returns the
// resulting field value.
func overlay(value string, recipient map[string]any, key string) string {
	if value != "" {
		recipient[key] = value
		return value
	}
	existing, _ := recipient[key].(string)
	return existing
}

func (c *Client) get(ctx context.Context, table string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body any) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, query.Encode())

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}
	return c.http.Do(req)
}
