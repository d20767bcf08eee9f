package intercept

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c, err := NewClassifier(testOrigin, testBackend, []string{"https://fonts.example"})
	require.NoError(t, err)

	cases := []struct {
		url        string
		class      Class
		sameOrigin bool
	}{
		{testOrigin + "/", ClassStaticAsset, true},
		{testOrigin + "/manifest.json", ClassStaticAsset, true},
		{testOrigin + "/icon-192x192.png", ClassStaticAsset, true},
		{testOrigin + "/settings", ClassOther, true},
		{"https://VIDGRAB-SERVER.example:443/info", ClassCrossOriginAPI, false},
		{"https://fonts.example/inter.woff2", ClassStaticAsset, true},
		{"https://tracker.example/pixel.gif", ClassOther, false},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.url)
		require.NoError(t, err)
		req := c.Classify("get", u, nil)
		require.Equal(t, http.MethodGet, req.Method)
		require.Equal(t, tc.class, req.Class, tc.url)
		require.Equal(t, tc.sameOrigin, req.SameOrigin, tc.url)
	}
}

func TestClassifierTarget(t *testing.T) {
	c, err := NewClassifier(testOrigin, testBackend, nil)
	require.NoError(t, err)

	target, err := c.Target("vidgrab-server.example", "/info?x=1")
	require.NoError(t, err)
	require.Equal(t, testBackend+"/info?x=1", target.String())

	target, err = c.Target("localhost:5000", "/manifest.json")
	require.NoError(t, err)
	require.Equal(t, testOrigin+"/manifest.json", target.String())
}

func TestNewClassifierRejectsBadOrigins(t *testing.T) {
	_, err := NewClassifier("ftp://vidgrab.example", testBackend, nil)
	require.Error(t, err)
	_, err = NewClassifier(testOrigin, testOrigin, nil)
	require.Error(t, err)
	_, err = NewClassifier(testOrigin, testBackend, []string{"not a url"})
	require.Error(t, err)
}
