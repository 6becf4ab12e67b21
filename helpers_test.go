package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
// Callers must not run in parallel.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w

	var buf bytes.Buffer

	done := make(chan struct{})

	go func() {
		defer close(done)
		io.Copy(&buf, r)
	}()

	defer func() {
		os.Stdout = orig
	}()

	fn()

	w.Close()
	<-done
	r.Close()

	return buf.String()
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var err error

	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		err = cmd.Execute()
	})

	return out, err
}

// testAccount is one [account.<name>] block of a generated config file.
type testAccount struct {
	name     string
	clientID string
	secret   string
	database string
}

// writeTestConfig writes a config pointing at apiURL and returns its path.
func writeTestConfig(t *testing.T, apiURL string, accounts ...testAccount) string {
	t.Helper()

	var b strings.Builder

	fmt.Fprintf(&b, "log_level = \"error\"\n\n[api]\nbase_url = %q\ntoken_url = %q\nmin_request_interval = \"0s\"\nmax_attempts = 1\n\n",
		apiURL, apiURL+"/connect/token")
	b.WriteString("[sync]\ntimezone = \"UTC\"\n")

	for _, a := range accounts {
		fmt.Fprintf(&b, "\n[account.%s]\nclient_id = %q\nclient_secret = %q\ntax_id = \"TAX-%s\"\n",
			a.name, a.clientID, a.secret, a.name)

		if a.database != "" {
			fmt.Fprintf(&b, "database = %q\n", a.database)
		}
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	return path
}

// fakeRegistry serves a token endpoint, a search endpoint with three received
// documents and one sent document on 2024-03-05, and their details. Client
// secret "wrong" is rejected.
type fakeRegistry struct {
	*httptest.Server
	tokenCalls  atomic.Int32
	detailCalls atomic.Int32
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()

	fr := &fakeRegistry{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /connect/token", func(w http.ResponseWriter, r *http.Request) {
		fr.tokenCalls.Add(1)

		if _, secret, _ := r.BasicAuth(); secret == "wrong" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_client"}`)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})

	mux.HandleFunc("GET /api/v1.0/documents/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		result := []map[string]string{}

		if strings.HasPrefix(q.Get("submissionDateFrom"), "2024-03-05") {
			if q.Get("direction") == "Received" {
				result = append(result, summary("R1"), summary("R2"), summary("R3"))
			} else {
				result = append(result, summary("S1"))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"result":   result,
			"metadata": map[string]string{"continuationToken": "EndofResultSet"},
		})
	})

	mux.HandleFunc("GET /api/v1.0/documents/{uuid}/details", func(w http.ResponseWriter, r *http.Request) {
		fr.detailCalls.Add(1)

		id := r.PathValue("uuid")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"uuid":%q,"internalID":"INV-%s","status":"Valid","typeName":"I",
			"dateTimeReceived":"2024-03-05T10:%s:00Z","issuer":{"id":"SUPPLIER","name":"Seller"},
			"receiver":{"id":"BUYER","name":"Buyer"},"totalAmount":100}`, id, id, minuteOf(id))
	})

	fr.Server = httptest.NewServer(mux)
	t.Cleanup(fr.Close)

	return fr
}

func summary(id string) map[string]string {
	return map[string]string{"uuid": id, "dateTimeReceived": "2024-03-05T10:00:00Z"}
}

// minuteOf gives each document a distinct received minute.
func minuteOf(id string) string {
	switch id {
	case "R1":
		return "01"
	case "R2":
		return "02"
	case "R3":
		return "03"
	default:
		return "04"
	}
}
