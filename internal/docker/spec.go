package docker

import (
	"fmt"
	"path/filepath"

	"github.com/raworc/raworc/internal/common/config"
	"github.com/raworc/raworc/internal/session"
)

// Labels attached to every session-owned container. The managed label is the
// discovery key for reconciliation.
const (
	LabelSessionID   = "raworc.session.id"
	LabelSessionName = "raworc.session.name"
	LabelManaged     = "raworc.managed"
)

const (
	// WorkspaceMountPath is where the session volume appears in the container.
	WorkspaceMountPath = "/workspace"

	// cpuPeriodMicros is the scheduler period the CPU quota is measured
	// against: quota = cpuLimit * period.
	cpuPeriodMicros = 100000
)

// ContainerName returns the engine-side name for a session container.
func ContainerName(sessionID string) string {
	return "raworc-session-" + sessionID
}

// SessionContainerSpec builds the ContainerConfig for a session sandbox.
// The default command keeps the container alive; the in-container agent is
// started by the image entrypoint or exec.
func SessionContainerSpec(sess *session.Session, sandbox config.SandboxConfig, volumePath, apiURL, agentToken string) ContainerConfig {
	env := []string{
		"SESSION_ID=" + sess.ID,
		"SESSION_NAME=" + sess.Name,
		"RAWORC_API_URL=" + apiURL,
		"RAWORC_SESSION_ID=" + sess.ID,
		"RAWORC_TOKEN=" + agentToken,
	}
	if sess.StartingPrompt != nil {
		env = append(env, "STARTING_PROMPT="+*sess.StartingPrompt)
	}

	return ContainerConfig{
		Name:       ContainerName(sess.ID),
		Image:      sandbox.Image,
		Hostname:   "session-" + sess.ID,
		Cmd:        []string{"/bin/sh", "-c", "echo 'Session container started'; sleep infinity"},
		Env:        env,
		WorkingDir: WorkspaceMountPath,
		Mounts: []MountConfig{
			{Source: volumePath, Target: WorkspaceMountPath},
		},
		NetworkMode: sandbox.Network,
		Memory:      sandbox.MemoryLimit,
		MemorySwap:  sandbox.MemoryLimit, // equal to memory to disable swap
		CPUQuota:    int64(sandbox.CPULimit * cpuPeriodMicros),
		CPUPeriod:   cpuPeriodMicros,
		Labels: map[string]string{
			LabelSessionID:   sess.ID,
			LabelSessionName: sess.Name,
			LabelManaged:     "true",
		},
	}
}

// ManagedLabelFilter selects every container this control plane owns.
func ManagedLabelFilter() map[string]string {
	return map[string]string{LabelManaged: "true"}
}

// VolumePath returns the host directory bind-mounted for a session.
func VolumePath(volumesRoot, sessionID string) string {
	return filepath.Join(volumesRoot, sessionID)
}

// DescribeStatus renders the health-check termination reason for a
// non-running container.
func DescribeStatus(state string) string {
	return fmt.Sprintf("Container status: %s", state)
}
