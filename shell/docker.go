package shell

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerExecutor runs commands inside a running container on the local
// Docker daemon. It covers agents deployed as containers rather than
// SSH-reachable hosts.
type DockerExecutor struct {
	client      client.APIClient
	containerID string
}

// DialDocker connects to the Docker daemon and verifies the container exists.
func DialDocker(ctx context.Context, containerID string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.ContainerInspect(ctx, containerID); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return &DockerExecutor{client: cli, containerID: containerID}, nil
}

// Exec runs command in the container via sh -c.
func (e *DockerExecutor) Exec(ctx context.Context, command string) (*Result, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := e.client.ContainerExecCreate(ctx, e.containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("container exec create: %w", err)
	}

	attachResp, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("container exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return nil, fmt.Errorf("container exec read: %w", err)
	}

	inspect, err := e.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("container exec inspect: %w", err)
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// PutContent writes content to remotePath inside the container by copying
// a single-file tar archive to its parent directory.
func (e *DockerExecutor) PutContent(ctx context.Context, content string, remotePath string) error {
	dir := filepath.ToSlash(filepath.Dir(remotePath))
	if res, err := e.Exec(ctx, fmt.Sprintf("mkdir -p %q", dir)); err != nil {
		return err
	} else if res.ExitCode != 0 {
		return fmt.Errorf("mkdir %s: %s", dir, strings.TrimSpace(res.Stderr))
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	data := []byte(content)
	hdr := &tar.Header{
		Name: filepath.Base(remotePath),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	if err := e.client.CopyToContainer(ctx, e.containerID, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// Close shuts down the Docker client connection.
func (e *DockerExecutor) Close() error { return e.client.Close() }
