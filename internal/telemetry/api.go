package telemetry

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"iot-panel-server/internal/database"
	"iot-panel-server/internal/logger"
)

const defaultHistoryWindow = 24 * time.Hour

// API serves the recorded history over HTTP.
type API struct {
	store *database.Store
	now   func() time.Time
}

func NewAPI(store *database.Store) *API {
	return &API{store: store, now: time.Now}
}

// HandleGetHistory returns records as JSON. It accepts either "date"
// (YYYY-MM-DD) or a "from"/"to" range in unix seconds; without parameters it
// returns the last 24 hours.
func (a *API) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var records []database.Record
	var err error
	if date := q.Get("date"); date != "" {
		if _, perr := time.Parse("2006-01-02", date); perr != nil {
			http.Error(w, "Invalid date format. Use YYYY-MM-DD.", http.StatusBadRequest)
			return
		}
		records, err = a.store.Day(date)
	} else {
		end := a.now().Unix()
		start := end - int64(defaultHistoryWindow/time.Second)
		if v := q.Get("from"); v != "" {
			if start, err = strconv.ParseInt(v, 10, 64); err != nil {
				http.Error(w, "Invalid 'from' timestamp.", http.StatusBadRequest)
				return
			}
		}
		if v := q.Get("to"); v != "" {
			if end, err = strconv.ParseInt(v, 10, 64); err != nil {
				http.Error(w, "Invalid 'to' timestamp.", http.StatusBadRequest)
				return
			}
		}
		records, err = a.store.History(start, end)
	}
	if err != nil {
		logger.Error("History query failed: %v", err)
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []database.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// HandleGetLogDates returns the days with recorded data, newest first.
func (a *API) HandleGetLogDates(w http.ResponseWriter, r *http.Request) {
	dates, err := a.store.Dates()
	if err != nil {
		logger.Error("Dates query failed: %v", err)
		http.Error(w, "Failed to list recorded days", http.StatusInternalServerError)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dates)
}

// HandleDownloadCSV streams one day of records as CSV. Absent readings are
// empty cells.
func (a *API) HandleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "Missing date parameter", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD.", http.StatusBadRequest)
		return
	}

	records, err := a.store.Day(date)
	if err != nil {
		logger.Error("CSV export for %s failed: %v", date, err)
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		http.Error(w, "No telemetry recorded for this date", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"telemetry_%s.csv\"", date))

	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "temp", "dist", "led"})
	for _, rec := range records {
		led := "0"
		if rec.LED {
			led = "1"
		}
		cw.Write([]string{
			time.Unix(rec.Timestamp, 0).Format(time.RFC3339),
			cell(rec.Temp),
			cell(rec.Dist),
			led,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.Warn("CSV export for %s interrupted: %v", date, err)
	}
}

func cell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
