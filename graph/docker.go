package graph

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"

	"go.uber.org/zap/zapcore"
)

// DockerManager runs one toolchain command inside a container.
// The working directory is bind-mounted into the container at the same path.
type DockerManager interface {
	Process(ctx context.Context, workdir, imageRef string, args []string, envs []string) error
}

type dockerManager struct {
	cli     *client.Client
	envs    []string // prefix white list of the env entries forwarded to containers
	volumes []string // extra read-only bind mounts
	auth    string   // registry auth, base64 encoded
	filter  *DockerLogFilter
}

type DockerConfig struct {
	Envs             []string
	RegistryServer   string // "https://europe-west1-docker.pkg.dev" for gcs for example
	RegistryUserName string // _json_key for gcs
	RegistryPassword string // service account for gcs
	VolumesToMount   string // List of volumes to mount (comma separated)
}

// SetFlags configures flags for a docker config
// Returns dockerEnvs as string, comma sep.
//
// cfg := DockerConfig{}
// dockerEnvsStr := cfg.SetFlags()
//
// flag.Parse()
//
//	if *dockerEnvsStr != "" {
//			cfg.Envs = strings.Split(*dockerEnvsStr, ",")
//		}
func (cfg *DockerConfig) SetFlags() *string {
	// Docker processing images connection
	flag.StringVar(&cfg.RegistryUserName, "docker-registry-username", "_json_key", "username to authentication on private registry")
	flag.StringVar(&cfg.RegistryPassword, "docker-registry-password", "", "password to authentication on private registry")
	flag.StringVar(&cfg.RegistryServer, "docker-registry-server", "", "address of server to authenticate on private registry (e.g. https://europe-west1-docker.pkg.dev)")
	flag.StringVar(&cfg.VolumesToMount, "docker-mount-volumes", "", "list of volumes to mount on the docker (comma separated)")

	return flag.String("docker-envs", "", "docker variable env key white list (comma sep)")
}

func NewDockerManager(ctx context.Context, config DockerConfig) (DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create new docker client: %w", err)
	}

	var encodedAuthLogin string
	if config.RegistryUserName != "" && config.RegistryPassword != "" && config.RegistryServer != "" {
		log.Logger(ctx).Info("register to container registry...")
		auth := registry.AuthConfig{
			Username:      config.RegistryUserName,
			Password:      config.RegistryPassword,
			ServerAddress: config.RegistryServer,
		}

		bAuth, err := json.Marshal(&auth)
		if err != nil {
			return nil, err
		}

		encodedAuthLogin = base64.StdEncoding.EncodeToString(bAuth)
	}

	d := dockerManager{
		cli:    cli,
		envs:   config.Envs,
		auth:   encodedAuthLogin,
		filter: &DockerLogFilter{},
	}
	if len(config.VolumesToMount) > 0 {
		d.volumes = strings.Split(config.VolumesToMount, ",")
	}

	if err := d.ping(ctx, 5*time.Minute); err != nil {
		return nil, fmt.Errorf("NewDockerManager: %w", err)
	}

	return &d, nil
}

func (d *dockerManager) ping(ctx context.Context, timeout time.Duration) error {
	var err error
	ctx, cnl := context.WithTimeout(ctx, timeout)
	defer cnl()
	for {
		if _, err = d.cli.Ping(ctx); err == nil {
			return nil
		}
		log.Logger(ctx).Info("waiting for docker daemon...")
		select {
		case <-ctx.Done():
			return fmt.Errorf("docker daemon not found: %w", err)
		case <-time.After(5 * time.Second):
		}
	}
}

func (d *dockerManager) Process(ctx context.Context, workdir, imageRef string, args []string, envs []string) error {
	if err := d.ping(ctx, time.Minute); err != nil {
		return fmt.Errorf("Process: %w", err)
	}

	imageInfo, err := d.localImageInfo(ctx, imageRef)
	if err != nil {
		log.Logger(ctx).Info("pulling image " + imageRef)
		if imageInfo, err = d.pullImage(ctx, imageRef); err != nil {
			return fmt.Errorf("Process: %w", err)
		}
	}

	var availableEnvs []string
	for _, env := range envs {
		for _, wlEnv := range d.envs {
			if strings.HasPrefix(env, wlEnv) {
				availableEnvs = append(availableEnvs, env)
			}
		}
	}

	mounts := []mount.Mount{{
		Type:     mount.TypeBind,
		Source:   workdir,
		Target:   workdir,
		ReadOnly: false,
	}}
	for _, volume := range d.volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   volume,
			Target:   volume,
			ReadOnly: true,
		})
	}

	containerConfig := &container.Config{
		Image:        imageInfo.ID,
		Cmd:          args,
		AttachStdout: true,
		WorkingDir:   workdir,
		Env:          availableEnvs,
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
	}

	created, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to create %s container: %w", imageRef, err)
	}

	defer func() {
		if err := d.cli.ContainerStop(ctx, created.ID, container.StopOptions{}); err != nil {
			log.Logger(ctx).Sugar().Warnf("failed to stop container: %s", created.ID)
		}
		if err := d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{}); err != nil {
			log.Logger(ctx).Sugar().Warnf("failed to remove container: %s", created.ID)
		}
	}()

	if err := d.runContainer(ctx, created.ID); err != nil {
		return fmt.Errorf("failed to run %s container: %w", imageRef, err)
	}

	return nil
}

func (d *dockerManager) pullImage(ctx context.Context, imageRef string) (image.Summary, error) {
	imagePullRc, err := d.cli.ImagePull(ctx, imageRef, image.PullOptions{
		RegistryAuth: d.auth,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			err = service.MakeTemporary(err)
		}
		return image.Summary{}, fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	defer imagePullRc.Close()
	imagePullb, err := io.ReadAll(imagePullRc)
	if err != nil {
		log.Logger(ctx).Sugar().Errorf("failed to read image pull information: %v", err)
	} else {
		log.Logger(ctx).Sugar().Debug(string(imagePullb))
	}
	return d.localImageInfo(ctx, imageRef)
}

func (d *dockerManager) localImageInfo(ctx context.Context, imageRef string) (image.Summary, error) {
	filter := filters.NewArgs()
	filter.Add("reference", imageRef)

	images, err := d.cli.ImageList(ctx, image.ListOptions{
		All:     false,
		Filters: filter,
	})
	if err != nil {
		return image.Summary{}, service.MakeTemporary(fmt.Errorf("failed to list image %s: %w", imageRef, err))
	}

	if len(images) < 1 {
		return image.Summary{}, service.MakeTemporary(fmt.Errorf("not found: %s", imageRef))
	}

	return images[0], nil
}

func (d *dockerManager) runContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	containerLogs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Details:    false,
		Timestamps: false,
	})
	if err != nil {
		return fmt.Errorf("failed to retrieve logs: %w", err)
	}

	logwg := sync.WaitGroup{}
	logwg.Add(1)
	go func() {
		defer logwg.Done()
		defer containerLogs.Close()
		d.logLines(ctx, containerLogs)
	}()

	logwg.Wait()

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case exit := <-statusCh:
		if exit.StatusCode != 0 {
			return d.filter.WrapError(fmt.Errorf("container exited with status %d", exit.StatusCode))
		}
	}

	return nil
}

// logLines forwards the multiplexed container stream to the logger.
func (d *dockerManager) logLines(ctx context.Context, sr io.Reader) {
	r := bufio.NewReader(sr)
	insideTooLongLine := false
	for {
		line, err := r.ReadSlice('\n')
		if !insideTooLongLine && len(line) >= 8 {
			line = line[8:] // stream is multiplexed: remove header
		}
		if err == io.EOF {
			if !insideTooLongLine && len(line) > 0 {
				d.log(ctx, string(line))
			}
			return
		}
		if insideTooLongLine {
			if err == nil {
				// reset
				insideTooLongLine = false
			}
		} else {
			if err == bufio.ErrBufferFull {
				d.log(ctx, fmt.Sprintf("%s ...[message clipped]", line))
				insideTooLongLine = true
			} else {
				if len(line) > 0 {
					d.log(ctx, string(line))
				}
			}
		}
	}
}

func (d *dockerManager) log(ctx context.Context, msg string) {
	var level zapcore.Level
	var ignore bool
	if msg, level, ignore = d.filter.Filter(msg, zapcore.DebugLevel); ignore {
		return
	}
	logger := log.Logger(ctx)
	if ce := logger.Check(level, msg); ce != nil {
		ce.Write()
	}
}

// DockerLogFilter formats log from containerized commands
type DockerLogFilter struct {
	lastError string
}

// WrapError implements LogFilter
func (f *DockerLogFilter) WrapError(err error) error {
	if f.lastError != "" && err != nil {
		return fmt.Errorf("%w (%v)", err, f.lastError)
	}
	return err
}

// Filter implement log.Filter
func (f *DockerLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmedmsg := strings.TrimSpace(msg)
	if strings.Contains(trimmedmsg, "ERROR:") || pythonErrRegexp.MatchString(trimmedmsg) {
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "WARNING:") {
		return msg, zapcore.WarnLevel, false
	}
	return msg, defaultLevel, false
}
