// Package models defines the metadata records exchanged with the DataHub catalog.
package models

import (
	"fmt"
	"strings"
)

// DefaultEnv is the fabric used when building dataset urns.
const DefaultEnv = "PROD"

const (
	urnPrefix      = "urn:li:"
	userURNPrefix  = "urn:li:corpuser:"
	groupURNPrefix = "urn:li:corpGroup:"
	datasetPrefix  = "urn:li:dataset:("
	platformPrefix = "urn:li:dataPlatform:"
)

// IsURN reports whether s looks like a DataHub urn.
func IsURN(s string) bool {
	return strings.HasPrefix(s, urnPrefix) && len(s) > len(urnPrefix)
}

// MakeUserURN returns the corpuser urn for a user id. Ids that are already
// user urns are returned unchanged.
func MakeUserURN(userID string) string {
	if strings.HasPrefix(userID, userURNPrefix) {
		return userID
	}
	return userURNPrefix + userID
}

// UserID strips the corpuser prefix from a urn.
func UserID(userURN string) string {
	return strings.TrimPrefix(userURN, userURNPrefix)
}

// IsGroupURN reports whether urn names a corpGroup.
func IsGroupURN(urn string) bool {
	return strings.HasPrefix(urn, groupURNPrefix)
}

// MakePlatformURN returns the dataPlatform urn for a platform name.
func MakePlatformURN(platform string) string {
	return platformPrefix + platform
}

// MakeDatasetURN builds urn:li:dataset:(urn:li:dataPlatform:<platform>,<name>,<env>).
func MakeDatasetURN(platform, name, env string) string {
	if env == "" {
		env = DefaultEnv
	}
	return fmt.Sprintf("%s%s,%s,%s)", datasetPrefix, MakePlatformURN(platform), name, env)
}

// DerivePlatformURN extracts the platform urn embedded in a dataset urn.
func DerivePlatformURN(datasetURN string) (string, error) {
	rest, ok := strings.CutPrefix(datasetURN, datasetPrefix+platformPrefix)
	if !ok {
		return "", fmt.Errorf("not a dataset urn: %q", datasetURN)
	}
	platform, _, ok := strings.Cut(rest, ",")
	if !ok || platform == "" {
		return "", fmt.Errorf("dataset urn has no platform: %q", datasetURN)
	}
	return MakePlatformURN(platform), nil
}

// DatasetName returns the name component of a dataset urn, or the urn itself
// when it cannot be split.
func DatasetName(datasetURN string) string {
	parts := strings.Split(strings.TrimSuffix(datasetURN, ")"), ",")
	if len(parts) != 3 {
		return datasetURN
	}
	return parts[1]
}
