package accounts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccounts(t *testing.T) {
	input := `
# main accounts
key-one:secret-one
  key-two : secret-two
`
	list, err := ParseAccounts(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "key-two", list[1].APIKey)
	assert.Equal(t, "secret-two", list[1].APISecret)
	assert.Equal(t, 2, list[1].Index)

	_, err = ParseAccounts(strings.NewReader("ok:ok\nbroken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "第 2 行")
}

func TestNormalizeProxy(t *testing.T) {
	cases := map[string]string{
		"http://u:p@1.2.3.4:8080": "http://u:p@1.2.3.4:8080",
		"socks5://1.2.3.4:1080":   "socks5://1.2.3.4:1080",
		"u:p@1.2.3.4:8080":        "http://u:p@1.2.3.4:8080",
		"1.2.3.4:8080:u:p":        "http://u:p@1.2.3.4:8080",
		"proxy.example.com:3128":  "http://proxy.example.com:3128",
	}
	for in, want := range cases {
		got, err := NormalizeProxy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1.2.3.4", "a:b:c", "http://1.2.3.4"} {
		_, err := NormalizeProxy(bad)
		assert.Error(t, err, bad)
	}
}

func TestAssign_RoundRobin(t *testing.T) {
	list := []Account{{APIKey: "a"}, {APIKey: "b"}, {APIKey: "c"}}
	out := Assign(list, []string{"http://p1:1", "http://p2:2"})

	assert.Equal(t, "http://p1:1", out[0].Proxy)
	assert.Equal(t, "http://p2:2", out[1].Proxy)
	assert.Equal(t, "http://p1:1", out[2].Proxy)
	assert.Empty(t, list[0].Proxy)

	direct := Assign(list, nil)
	assert.Empty(t, direct[2].Proxy)
}

func TestLoad_MissingProxiesFileMeansDirect(t *testing.T) {
	dir := t.TempDir()
	accountsPath := filepath.Join(dir, "accounts.txt")
	require.NoError(t, os.WriteFile(accountsPath, []byte("k1:s1\nk2:s2\n"), 0o600))

	list, err := Load(accountsPath, filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Empty(t, list[0].Proxy)

	proxiesPath := filepath.Join(dir, "proxies.txt")
	require.NoError(t, os.WriteFile(proxiesPath, []byte("1.2.3.4:8080\n"), 0o600))
	list, err = Load(accountsPath, proxiesPath)
	require.NoError(t, err)
	assert.Equal(t, "http://1.2.3.4:8080", list[1].Proxy)

	_, err = Load(filepath.Join(dir, "nope.txt"), "")
	require.Error(t, err)
}

func TestAccount_Masked(t *testing.T) {
	assert.Equal(t, "abcd****wxyz", Account{APIKey: "abcdefghijklmnopqrstuvwxyz"}.Masked())
	assert.Equal(t, "*****", Account{APIKey: "short"}.Masked())
}
