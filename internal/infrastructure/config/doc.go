// Package config handles loading and validating Homeflow configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HOMEFLOW_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The guardian secret signs the tokens that may lift a device's AI lock.
// Set it through HOMEFLOW_GUARDIAN_SECRET rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/homeflow.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
