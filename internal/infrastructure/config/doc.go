// Package config provides configuration loading for Sortline Core.
//
// Configuration is loaded from a YAML file with a three-tier precedence:
// hardcoded defaults, then file values, then environment variables of the
// form SORTLINE_SECTION_KEY. Secrets such as MQTT credentials and the
// InfluxDB token should come from the environment rather than the file.
package config
