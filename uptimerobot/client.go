package uptimerobot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	pageLimit  = 50
	windowDays = 365
)

// MappingStore abstracts the persisted monitor mapping so the client can be
// exercised against a fake in tests.
type MappingStore interface {
	Replace(ctx context.Context, entries []models.MonitorMappingEntry) (int, error)
	Lookup(ctx context.Context, pidGraphID string) (string, bool, error)
}

type dbMappingStore struct{}

func (dbMappingStore) Replace(ctx context.Context, entries []models.MonitorMappingEntry) (int, error) {
	return models.ReplaceMonitorMappings(ctx, entries)
}

func (dbMappingStore) Lookup(ctx context.Context, pidGraphID string) (string, bool, error) {
	return models.LookupMonitorMapping(ctx, pidGraphID)
}

// Client talks to the UptimeRobot v2 API. All endpoints are POST with
// form-encoded bodies, including the read ones.
type Client struct {
	http    *http.Client
	apiKey  string
	baseURL string
	store   MappingStore
}

func NewClient(settings *config.Settings) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		apiKey:  settings.UptimeRobotAPIKey,
		baseURL: settings.UptimeRobotBaseURL,
		store:   dbMappingStore{},
	}
}

// NewClientWith builds a client against an explicit endpoint and store.
func NewClientWith(baseURL string, apiKey string, store MappingStore) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		baseURL: baseURL,
		store:   store,
	}
}

type apiPagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type apiError struct {
	Message string `json:"message"`
}

type apiMonitor struct {
	ID                 int64  `json:"id"`
	FriendlyName       string `json:"friendly_name"`
	URL                string `json:"url"`
	CustomUptimeRanges string `json:"custom_uptime_ranges"`
}

type getMonitorsResponse struct {
	Stat       string        `json:"stat"`
	Pagination apiPagination `json:"pagination"`
	Error      apiError      `json:"error"`
	Monitors   []apiMonitor  `json:"monitors"`
}

func (c *Client) getMonitors(ctx context.Context, params url.Values) (*getMonitorsResponse, error) {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/getMonitors", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := getMonitorsResponse{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("uptimerobot: decoding getMonitors response: %w", err)
	}
	if out.Stat != "ok" {
		return nil, fmt.Errorf("uptimerobot: getMonitors failed: %s", out.Error.Message)
	}
	return &out, nil
}

// RefreshMapping pages through the whole account's monitor list and rebuilds
// the group-to-monitor mapping. Monitors are matched by their friendly name,
// expected as "label;group_id"; names without the separator are skipped.
// Returns the number of installed mapping entries.
func (c *Client) RefreshMapping(ctx context.Context) (int, error) {
	logger := config.GetLogger()

	var entries []models.MonitorMappingEntry
	offset := 0
	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageLimit))
		params.Set("offset", strconv.Itoa(offset))

		page, err := c.getMonitors(ctx, params)
		if err != nil {
			return 0, err
		}

		for _, monitor := range page.Monitors {
			parts := strings.SplitN(monitor.FriendlyName, ";", 2)
			if len(parts) != 2 {
				logger.WithFields(logrus.Fields{
					"monitor_id":    monitor.ID,
					"friendly_name": monitor.FriendlyName,
				}).Warn("monitor friendly name has no group id; skipping")
				continue
			}
			entries = append(entries, models.MonitorMappingEntry{
				PIDGraphID: strings.TrimSpace(parts[1]),
				MonitorID:  strconv.FormatInt(monitor.ID, 10),
				Label:      strings.TrimSpace(parts[0]),
				URL:        monitor.URL,
			})
		}

		offset += pageLimit
		if page.Pagination.Total <= offset {
			break
		}
	}

	return c.store.Replace(ctx, entries)
}

// MonitorUptime is one monitor's share of an uptime report.
type MonitorUptime struct {
	ID           string          `json:"id"`
	PIDGraphID   string          `json:"pid_graph_id"`
	FriendlyName string          `json:"friendly_name"`
	URL          string          `json:"url"`
	Uptime       decimal.Decimal `json:"uptime"`
}

// UptimeReport aggregates the one-year uptime of a set of monitor groups.
type UptimeReport struct {
	Stat              string          `json:"stat"`
	MeanUptime        decimal.Decimal `json:"mean_uptime"`
	DaysDowntime      decimal.Decimal `json:"days_downtime"`
	TimestampInterval string          `json:"timestamp_interval"`
	Monitors          []MonitorUptime `json:"monitors"`
}

// MeanUptime fetches the trailing one-year uptime ratio for each mapped group
// and averages them. Group ids with no mapping entry are logged and skipped.
func (c *Client) MeanUptime(ctx context.Context, groupIDs []string) (*UptimeReport, error) {
	logger := config.GetLogger()

	monitorIDs := make([]string, 0, len(groupIDs))
	groupByMonitor := make(map[string]string, len(groupIDs))
	for _, groupID := range groupIDs {
		monitorID, found, err := c.store.Lookup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if !found {
			logger.WithFields(logrus.Fields{
				"pid_graph_id": groupID,
			}).Warn("no monitor mapped for group id; skipping")
			continue
		}
		monitorIDs = append(monitorIDs, monitorID)
		groupByMonitor[monitorID] = groupID
	}
	if len(monitorIDs) == 0 {
		return nil, fmt.Errorf("uptimerobot: none of the requested groups has a mapped monitor")
	}

	// Calendar one-year window; windowDays only feeds the downtime math.
	end := time.Now()
	start := end.AddDate(-1, 0, 0)
	interval := fmt.Sprintf("%d_%d", start.Unix(), end.Unix())

	params := url.Values{}
	params.Set("monitors", strings.Join(monitorIDs, "-"))
	params.Set("custom_uptime_ranges", interval)

	resp, err := c.getMonitors(ctx, params)
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	monitors := make([]MonitorUptime, 0, len(resp.Monitors))
	for _, monitor := range resp.Monitors {
		uptime, err := decimal.NewFromString(strings.TrimSpace(monitor.CustomUptimeRanges))
		if err != nil {
			return nil, fmt.Errorf("uptimerobot: monitor %d reported unparsable uptime %q", monitor.ID, monitor.CustomUptimeRanges)
		}
		id := strconv.FormatInt(monitor.ID, 10)
		monitors = append(monitors, MonitorUptime{
			ID:           id,
			PIDGraphID:   groupByMonitor[id],
			FriendlyName: monitor.FriendlyName,
			URL:          monitor.URL,
			Uptime:       uptime,
		})
		sum = sum.Add(uptime)
	}
	if len(monitors) == 0 {
		return nil, fmt.Errorf("uptimerobot: no uptime data returned for monitors %s", strings.Join(monitorIDs, "-"))
	}

	mean := sum.Div(decimal.NewFromInt(int64(len(monitors)))).Round(3)
	hundred := decimal.NewFromInt(100)
	daysDown := decimal.NewFromInt(1).Sub(mean.Div(hundred)).Mul(decimal.NewFromInt(windowDays)).Round(4)

	return &UptimeReport{
		Stat:              resp.Stat,
		MeanUptime:        mean,
		DaysDowntime:      daysDown,
		TimestampInterval: interval,
		Monitors:          monitors,
	}, nil
}
