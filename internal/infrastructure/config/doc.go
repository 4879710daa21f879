// Package config loads and validates the DALI service configuration.
//
// Values come from built-in defaults, then the YAML file, then GRAYLOGIC_*
// environment variables. Secrets (JWT secret, MQTT password, InfluxDB
// token) belong in the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.DALI.Gateway.Connection)
package config
