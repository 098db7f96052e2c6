package config

import "time"

// Default returns the surge-pricing profile: price quotes at 10k/s and
// driver location updates at 5k/s for one minute.
func Default() *TestConfig {
	return &TestConfig{
		Name: "surge-pricing",
		Settings: GlobalSettings{
			BaseURL:      DefaultBaseURL,
			Timeout:      Duration(DefaultTimeout),
			GracefulStop: Duration(DefaultGracefulStop),
			Output:       DefaultOutput,
		},
		Scenarios: map[string]*ScenarioConfig{
			"pricing_load": {
				Executor:        ExecutorConstantArrivalRate,
				Rate:            10000,
				TimeUnit:        Duration(time.Second),
				Duration:        Duration(60 * time.Second),
				PreAllocatedVUs: 500,
				MaxVUs:          1000,
				Exec:            "pricing",
			},
			"driver_updates": {
				Executor:        ExecutorConstantArrivalRate,
				Rate:            5000,
				TimeUnit:        Duration(time.Second),
				Duration:        Duration(60 * time.Second),
				PreAllocatedVUs: 200,
				MaxVUs:          400,
				Exec:            "driver-location",
			},
		},
		Thresholds: map[string][]string{
			"http_req_duration{scenario:pricing_load}": {"p(95)<100"},
			"errors":          {"rate<0.01"},
			"http_req_failed": {"rate<0.01"},
		},
	}
}
