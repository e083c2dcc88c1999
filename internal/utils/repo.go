// Package utils holds small shared helpers with no project
// dependencies.
package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRepoURL splits a GitHub repository URL into owner and name.
// Both web URLs (github.com/{owner}/{repo}) and REST API URLs
// (api.github.com/repos/{owner}/{repo}) are accepted.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", err
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) > 0 && parts[0] == "repos" {
		parts = parts[1:]
	}
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid GitHub repository URL: %s", repoURL)
	}

	return parts[0], parts[1], nil
}
