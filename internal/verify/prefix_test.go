package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppPrefix(t *testing.T) {
	tests := []struct {
		appName string
		want    string
	}{
		{"Damn Vulnerable Web Application", "dvwa"},
		{"OWASP Juice Shop", "juice-shop"},
		{"Jenkins", "jenkins"},
		{"Grafana", "grafana"},
		{"OWASP ZAP", "zap"},
		{"Apache Tomcat", "tomcat"},
		{"The Application", "application"},
		{"GitLab CE", "gitlab-ce"},
		{"Super Extremely Long Application Name", "selan"},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.appName, func(t *testing.T) {
			assert.Equal(t, tc.want, AppPrefix(tc.appName))
		})
	}
}
