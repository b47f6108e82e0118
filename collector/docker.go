package collector

import (
	"context"
	"strings"

	"procstat-agent/apperr"
	"procstat-agent/models"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerSource lists containers through the Docker daemon API
type DockerSource struct {
	cli *client.Client
}

// NewDockerSource connects using DOCKER_HOST & friends, falling back to the
// local socket. The daemon is not contacted until the first call.
func NewDockerSource() (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.New("docker client", apperr.ErrUnavailable, err)
	}
	return &DockerSource{cli: cli}, nil
}

// Containers returns running and stopped containers
func (d *DockerSource) Containers(ctx context.Context) ([]models.ContainerInfo, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, apperr.New("list containers", apperr.ErrUnavailable, err)
	}

	result := make([]models.ContainerInfo, 0, len(list))
	for _, c := range list {
		result = append(result, models.ContainerInfo{
			ID:      shortID(c.ID),
			Name:    containerName(c.Names),
			Image:   c.Image,
			Status:  c.Status,
			State:   c.State,
			Created: c.Created,
		})
	}
	return result, nil
}

func (d *DockerSource) Close() error {
	return d.cli.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
