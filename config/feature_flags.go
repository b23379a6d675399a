package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages runtime toggles for optional gateway behavior.
// Flags are read once from the environment and may be flipped at runtime.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Predefined feature flag names.
const (
	// === Scheduler ===
	FeatureNotificationRetry = "scheduler.notification_retry" // Re-deliver unlocks whose notification failed
	FeatureScanLease         = "scheduler.scan_lease"         // Redis lease around every scan pass

	// === Event bus ===
	FeatureProgressEvents = "events.progress" // Forward achievement/XP events to sockets
	FeatureUnlockChaining = "events.chaining" // Subject completion schedules the next unlock

	// === Internal API ===
	FeatureEventIngest = "api.event_ingest" // POST /internal/v1/events/{type}
	FeatureManualJobs  = "api.manual_jobs"  // POST /internal/v1/jobs/{name}/run
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureNotificationRetry, Description: "Retry unlock notifications that were not delivered", Enabled: true},
		{Name: FeatureScanLease, Description: "Take a Redis lease before each unlock scan", Enabled: true},
		{Name: FeatureProgressEvents, Description: "Forward achievement and XP events to connected clients", Enabled: true},
		{Name: FeatureUnlockChaining, Description: "Schedule the next subject when a subject is completed", Enabled: true},
		{Name: FeatureEventIngest, Description: "Accept domain events over the internal API", Enabled: true},
		// Manual runs bypass the scan interval; opt-in only.
		{Name: FeatureManualJobs, Description: "Allow running scheduler jobs on demand", Enabled: false},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_API_MANUAL_JOBS=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "scheduler.scan_lease" -> "FEATURE_SCHEDULER_SCAN_LEASE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off.
// A nil receiver treats every feature as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return true
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// SetEnabled flips a feature at runtime.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// List returns a copy of all features sorted by name.
func (ff *FeatureFlags) List() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		result = append(result, *f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
