package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleQuote(t *testing.T) {
	assert.Equal(t, "''", singleQuote(""))
	assert.Equal(t, "'plain'", singleQuote("plain"))
	assert.Equal(t, `'it'\''s'`, singleQuote("it's"))
	assert.Equal(t, `'a b "c"'`, singleQuote(`a b "c"`))
}

func TestShellJoin(t *testing.T) {
	assert.Equal(t, "'tmux' 'send-keys' '-t' 'main:1.0'", shellJoin([]string{"tmux", "send-keys", "-t", "main:1.0"}))
}

func TestSSHArgv(t *testing.T) {
	rt := fakeRuntime{
		id:       "build-server",
		host:     "build.example.com",
		port:     2222,
		user:     "deploy",
		identity: "/home/me/.ssh/id_ed25519",
	}
	argv := sshArgv(rt, []string{"tmux", "list-sessions"})

	assert.Equal(t, "ssh", argv[0])
	assert.Contains(t, argv, "ConnectTimeout=5")
	assert.Contains(t, argv, "StrictHostKeyChecking=accept-new")
	assert.Contains(t, argv, "BatchMode=yes")
	assert.Contains(t, argv, "2222")
	assert.Contains(t, argv, "/home/me/.ssh/id_ed25519")
	assert.Contains(t, argv, "deploy@build.example.com")

	// The remote command runs through a login shell and is quoted once
	// for the remote side.
	assert.Equal(t, "bash", argv[len(argv)-3])
	assert.Equal(t, "-lc", argv[len(argv)-2])
	assert.Equal(t, `''\''tmux'\'' '\''list-sessions'\'''`, argv[len(argv)-1])
}

func TestSSHArgvDefaultPortOmitted(t *testing.T) {
	rt := fakeRuntime{id: "r1", host: "h", port: 22}
	argv := sshArgv(rt, []string{"tmux", "ls"})
	assert.NotContains(t, argv, "-p")
}
