// Package docker starts container-backed members of the agent stack.
package docker

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

type AgentOpts struct {
	Name  string
	Image string
	Cmd   []string
	Env   map[string]string
	Port  int  // published on 127.0.0.1, same port inside the container
	GPU   bool // request all NVIDIA devices
}

// AgentContainer is a running agent container. Stop removes it.
type AgentContainer struct {
	ID  string
	cli *client.Client
}

func StartAgent(ctx context.Context, opts *AgentOpts) (*AgentContainer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	envSlice := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	port := network.MustParsePort(fmt.Sprintf("%d/tcp", opts.Port))
	containerCfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Env:          envSlice,
		ExposedPorts: network.PortSet{port: struct{}{}},
		Labels:       map[string]string{"agentprobe": "true", "agentprobe.agent": opts.Name},
	}

	hostCfg := &container.HostConfig{
		PortBindings: network.PortMap{
			port: []network.PortBinding{{HostIP: netip.MustParseAddr("127.0.0.1"), HostPort: strconv.Itoa(opts.Port)}},
		},
	}
	if opts.GPU {
		hostCfg.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("creating %s container: %w", opts.Name, err)
	}

	if _, err := cli.ContainerStart(ctx, createResp.ID, client.ContainerStartOptions{}); err != nil {
		cli.ContainerRemove(context.Background(), createResp.ID, client.ContainerRemoveOptions{Force: true})
		cli.Close()
		return nil, fmt.Errorf("starting %s container: %w", opts.Name, err)
	}

	return &AgentContainer{ID: createResp.ID, cli: cli}, nil
}

// Stop force-removes the container.
func (a *AgentContainer) Stop() error {
	_, err := a.cli.ContainerRemove(context.Background(), a.ID, client.ContainerRemoveOptions{Force: true})
	a.cli.Close()
	if err != nil {
		return fmt.Errorf("removing container %s: %w", a.ID, err)
	}
	return nil
}
