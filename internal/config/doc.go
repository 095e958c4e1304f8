// Package config loads clauselens configuration from local and global YAML
// files plus environment variables, with precedence rules. It is internal;
// CLI code maps flags and files into component configuration.
package config
