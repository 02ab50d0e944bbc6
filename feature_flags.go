package main

import "net/http"

type FeatureFlags struct {
	Predictions bool
	Deposits    bool
	Cron        bool
}

func (c *Config) Features() FeatureFlags {
	return FeatureFlags{
		Predictions: c.EnablePredictions,
		Deposits:    c.EnableDeposits,
		Cron:        c.EnableCron,
	}
}

// requireFeature answers 403 when the flag is off.
func requireFeature(w http.ResponseWriter, enabled bool, name string) bool {
	if enabled {
		return true
	}
	writeError(w, http.StatusForbidden, name+" are disabled")
	return false
}
