package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/circuitbreaker"
	"github.com/civicflow/civicflow/internal/operator"
)

func TestCallPostsJSONAndDecodesResponse(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]interface{}{"reference": "REF-9"})
	}))
	defer srv.Close()

	c := NewHTTPClient(&ClientConfig{
		Services: map[string]string{"permits": srv.URL},
		Timeout:  time.Second,
	})

	out, err := c.Call(context.Background(), "permits", "submit", map[string]interface{}{"permit_id": "p-1"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotPath != "/submit" {
		t.Fatalf("expected /submit, got %s", gotPath)
	}
	if gotPayload["permit_id"] != "p-1" {
		t.Fatalf("payload not forwarded: %v", gotPayload)
	}
	if out["reference"] != "REF-9" {
		t.Fatalf("response not decoded: %v", out)
	}
}

func TestCallUnknownService(t *testing.T) {
	c := NewHTTPClient(DefaultClientConfig())
	_, err := c.Call(context.Background(), "nope", "op", nil)
	if !errors.Is(err, ErrUnknownService) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}

func TestCallNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(&ClientConfig{
		Services: map[string]string{"permits": srv.URL},
		Timeout:  time.Second,
	})
	_, err := c.Call(context.Background(), "permits", "submit", nil)
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestCircuitOpensPerService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(&ClientConfig{
		Services: map[string]string{
			"flaky":  srv.URL,
			"steady": srv.URL,
		},
		Timeout: time.Second,
		Breaker: &circuitbreaker.Config{MaxFailures: 2, OpenTimeout: time.Hour, HalfOpenMaxProbes: 1},
	})

	ctx := context.Background()
	c.Call(ctx, "flaky", "op", nil)
	c.Call(ctx, "flaky", "op", nil)

	_, err := c.Call(ctx, "flaky", "op", nil)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	// The other service keeps its own breaker.
	_, err = c.Call(ctx, "steady", "op", nil)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatal("steady service breaker tripped by flaky failures")
	}
}

func TestEntityClientCreateAndValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/entities":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":                 "ent-1",
				"type":               "property",
				"validation_status":  "has_warnings",
				"validation_errors":  []string{"missing cadastral code"},
				"auto_filled_fields": map[string]interface{}{"region": "north"},
			})
		case "/entities/validate":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"results": map[string]interface{}{
					"ent-1": map[string]interface{}{
						"validation_status": "valid",
					},
				},
			})
		case "/entities/ownership":
			json.NewEncoder(w).Encode(map[string]interface{}{"owns": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewEntityClient(srv.URL, time.Second, nil)
	ctx := context.Background()

	ent, err := c.CreateEntity(ctx, "property", map[string]interface{}{"address": "1 Main St"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ent.ID != "ent-1" || ent.ValidationStatus != "has_warnings" {
		t.Fatalf("unexpected entity: %+v", ent)
	}
	if ent.AutoFilledFields["region"] != "north" {
		t.Fatalf("auto-filled fields not decoded: %v", ent.AutoFilledFields)
	}

	if err := c.ValidateEntities(ctx, nil); err != nil {
		t.Fatalf("validate empty: %v", err)
	}

	if err := c.ValidateEntities(ctx, []*operator.Entity{ent}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ent.ValidationStatus != "valid" {
		t.Fatalf("validation status not updated: %s", ent.ValidationStatus)
	}

	owns, err := c.OwnsEntity(ctx, "u-1", "property")
	if err != nil {
		t.Fatalf("ownership: %v", err)
	}
	if !owns {
		t.Fatal("expected ownership true")
	}
}
