package facegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "data": data})
}

func TestClientBaseURLResolution(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "")
		c := NewClient()
		if c.BaseURL() != DefaultBaseURL {
			t.Fatalf("base = %q, want %q", c.BaseURL(), DefaultBaseURL)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "http://gate.internal:9000/")
		c := NewClient()
		if c.BaseURL() != "http://gate.internal:9000" {
			t.Fatalf("base = %q", c.BaseURL())
		}
	})

	t.Run("option wins over environment", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "http://gate.internal:9000")
		c := NewClient(WithBaseURL("http://explicit:8000/"))
		if c.BaseURL() != "http://explicit:8000" {
			t.Fatalf("base = %q", c.BaseURL())
		}
	})
}

func TestClientAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		okJSON(w, nil)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithToken("secret-token"))
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestAttendanceCRUD(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		gotBody = nil
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&gotBody)
		}
		okJSON(w, []map[string]string{{"id": "att-1"}})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	t.Run("list with query", func(t *testing.T) {
		res, err := c.Attendance().List(ctx, map[string]string{"date": "2026-03-01"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if !res.OK {
			t.Fatalf("result not OK")
		}
		if gotMethod != "GET" || gotPath != "/api/attendance" || gotQuery != "date=2026-03-01" {
			t.Fatalf("request = %s %s?%s", gotMethod, gotPath, gotQuery)
		}
	})

	t.Run("create", func(t *testing.T) {
		_, err := c.Attendance().Create(ctx, &AttendanceRecord{EmployeeID: "emp-1", EntryType: EntryTypeEntry})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if gotMethod != "POST" || gotPath != "/api/attendance" {
			t.Fatalf("request = %s %s", gotMethod, gotPath)
		}
		if gotBody["employee_id"] != "emp-1" {
			t.Fatalf("body = %v", gotBody)
		}
	})

	t.Run("update", func(t *testing.T) {
		_, err := c.Attendance().Update(ctx, "att-1", &AttendanceRecord{EntryType: EntryTypeExit})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if gotMethod != "PUT" || gotPath != "/api/attendance/att-1" {
			t.Fatalf("request = %s %s", gotMethod, gotPath)
		}
	})

	t.Run("delete", func(t *testing.T) {
		_, err := c.Attendance().Delete(ctx, "att-1")
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if gotMethod != "DELETE" || gotPath != "/api/attendance/att-1" {
			t.Fatalf("request = %s %s", gotMethod, gotPath)
		}
	})
}

func TestEmployeeCreateMultipart(t *testing.T) {
	var gotContentType, gotName, gotFilename string
	var gotPhoto []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			okJSON(w, nil)
			return
		}
		gotName = r.FormValue("name")
		if file, header, err := r.FormFile("photo"); err == nil {
			gotFilename = header.Filename
			buf := make([]byte, header.Size)
			file.Read(buf)
			gotPhoto = buf
			file.Close()
		}
		okJSON(w, map[string]string{"id": "srv-emp-1"})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.Employees().Create(context.Background(),
		&Employee{EmployeeID: "emp-1", Name: "Ada", Department: "Engineering"},
		&FormFile{Name: "ada.jpg", Data: []byte{0xff, 0xd8, 0xff}},
	)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.OK {
		t.Fatalf("result not OK")
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Fatalf("Content-Type = %q, want multipart", gotContentType)
	}
	if gotName != "Ada" {
		t.Fatalf("name field = %q", gotName)
	}
	if gotFilename != "ada.jpg" || len(gotPhoto) != 3 {
		t.Fatalf("photo = %q (%d bytes)", gotFilename, len(gotPhoto))
	}
}

func TestReasonsSubmitGuards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okJSON(w, nil)
	}))
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	t.Run("missing attendance id", func(t *testing.T) {
		_, err := c.Reasons().Submit(ctx, &EarlyExitReason{EmployeeID: "emp-1", Reason: "sick"})
		if err == nil {
			t.Fatalf("submitted without an attendance record id")
		}
	})

	t.Run("attendance id equals employee id", func(t *testing.T) {
		_, err := c.Reasons().Submit(ctx, &EarlyExitReason{
			AttendanceID: "emp-1", EmployeeID: "emp-1", Reason: "sick",
		})
		if err == nil {
			t.Fatalf("submitted against a misresolved record id")
		}
	})

	t.Run("valid submission", func(t *testing.T) {
		res, err := c.Reasons().Submit(ctx, &EarlyExitReason{
			AttendanceID: "att-9", EmployeeID: "emp-1", Reason: "medical appointment",
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if !res.OK {
			t.Fatalf("result not OK")
		}
	})
}

func TestRealtimeSocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws"},
		{"https://gate.example.com", "wss://gate.example.com/ws"},
	}
	for _, tc := range cases {
		c := NewClient(WithBaseURL(tc.base))
		if got := c.Realtime().SocketURL(); got != tc.want {
			t.Errorf("SocketURL(%s) = %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestAPIResultDecode(t *testing.T) {
	raw := []byte(`{"ok":true,"data":[{"id":"att-1","employee_id":"emp-1","entry_type":"entry"}]}`)
	res, err := decodeJSON[APIResult](raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var records []AttendanceRecord
	if err := res.Decode(&records); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 1 || records[0].EmployeeID != "emp-1" {
		t.Fatalf("records = %+v", records)
	}
}

func TestAPIErrorSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    false,
			"error": map[string]string{"code": "duplicate", "message": "already checked in"},
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	res, err := c.Attendance().Create(context.Background(), &AttendanceRecord{EmployeeID: "emp-1"})
	if err != nil {
		t.Fatalf("Create transport error: %v", err)
	}
	if res.OK {
		t.Fatalf("conflict reported as OK")
	}
	if res.Error == nil || res.Error.Code != "duplicate" {
		t.Fatalf("error = %+v", res.Error)
	}
	if !strings.Contains(res.Error.Error(), "already checked in") {
		t.Fatalf("error string = %q", res.Error.Error())
	}
}
