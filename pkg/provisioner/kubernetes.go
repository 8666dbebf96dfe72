package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/types"
)

// Compile-time check that Kubernetes implements Provisioner.
var _ Provisioner = (*Kubernetes)(nil)

const (
	DefaultImage      = "apache/spark:3.5.1"
	DefaultMasterURL  = "k8s://https://kubernetes.default.svc:443"
	DefaultUIPort     = 4040
	DefaultDriverPort = 7078
	DefaultBlockPort  = 7079

	driverContainerName = "spark-driver"
	uiPortName          = "spark-ui"
	sparkSubmit         = "/opt/spark/bin/spark-submit"
	replMainClass       = "org.apache.spark.repl.Main"

	// cleanupTimeout bounds the rollback of a half-provisioned cluster.
	cleanupTimeout = 30 * time.Second
)

// Spark adds at least this much off-heap overhead to the driver JVM.
const (
	minMemoryOverhead    = 384 << 20
	memoryOverheadFactor = 0.10
)

// Kubernetes provisions a cluster as one Spark driver pod plus a headless service
// in the tenant's namespace. The driver runs spark-submit in client mode and asks
// the API server for executor pods itself; executors inherit the cluster labels
// through spark.kubernetes.executor.label.* so one selector reclaims them too.
type Kubernetes struct {
	client          kubernetes.Interface
	image           string
	serviceAccount  string
	masterURL       string
	uiPort          int32
	imagePullPolicy corev1.PullPolicy
	logger          log.Logger
}

// Option configures the Kubernetes provisioner.
type Option func(*Kubernetes)

// WithImage sets the Spark container image for drivers and executors.
func WithImage(image string) Option {
	return func(k *Kubernetes) {
		if image != "" {
			k.image = image
		}
	}
}

// WithServiceAccount sets the service account the driver pod runs as. It must be
// allowed to create and delete pods in the tenant namespace.
func WithServiceAccount(name string) Option {
	return func(k *Kubernetes) {
		k.serviceAccount = name
	}
}

// WithMasterURL sets the spark.master URL drivers submit against.
func WithMasterURL(url string) Option {
	return func(k *Kubernetes) {
		if url != "" {
			k.masterURL = url
		}
	}
}

// WithUIPort sets the driver UI port.
func WithUIPort(port int32) Option {
	return func(k *Kubernetes) {
		if port > 0 {
			k.uiPort = port
		}
	}
}

// WithImagePullPolicy sets the driver image pull policy.
func WithImagePullPolicy(policy string) Option {
	return func(k *Kubernetes) {
		k.imagePullPolicy = corev1.PullPolicy(policy)
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(k *Kubernetes) {
		k.logger = logger.WithComponent("provisioner")
	}
}

// NewKubernetes creates a Kubernetes provisioner on top of client.
func NewKubernetes(client kubernetes.Interface, opts ...Option) *Kubernetes {
	k := &Kubernetes{
		client:          client,
		image:           DefaultImage,
		masterURL:       DefaultMasterURL,
		uiPort:          DefaultUIPort,
		imagePullPolicy: corev1.PullIfNotPresent,
		logger:          log.GetDefaultLogger().WithComponent("provisioner"),
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Provision ensures the namespace, then creates the driver pod and its service.
// If the service cannot be created the pod is removed again, so a failed
// provision leaves no driver behind.
func (k *Kubernetes) Provision(ctx context.Context, clusterID, tenantID string, shape types.ResourceShape) (*types.PlacementInfo, error) {
	namespace := types.NamespaceForTenant(tenantID)
	logger := k.logger.With(log.ClusterID(clusterID), log.TenantID(tenantID), log.Str("namespace", namespace))

	if err := k.ensureNamespace(ctx, tenantID); err != nil {
		return nil, types.NewProvisionError(OpProvision, clusterID, err)
	}

	pod, err := k.driverPod(clusterID, tenantID, shape)
	if err != nil {
		return nil, types.NewProvisionError(OpProvision, clusterID, err)
	}

	created, err := k.client.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, types.NewProvisionError(OpProvision, clusterID, fmt.Errorf("create driver pod: %w", err))
	}
	logger.Info("Created driver pod", log.Str("pod", created.Name))

	if _, err := k.client.CoreV1().Services(namespace).Create(ctx, k.driverService(clusterID, tenantID), metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
		k.rollback(ctx, clusterID, tenantID, logger)
		return nil, types.NewProvisionError(OpProvision, clusterID, fmt.Errorf("create driver service: %w", err))
	}

	return &types.PlacementInfo{
		Namespace:  namespace,
		DriverName: created.Name,
		UIEndpoint: k.uiEndpoint(created),
	}, nil
}

func (k *Kubernetes) rollback(ctx context.Context, clusterID, tenantID string, logger log.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := k.Deprovision(cleanupCtx, clusterID, tenantID); err != nil {
		logger.Error("Failed to roll back partial provision", log.Err(err))
	}
}

// Deprovision deletes the cluster's pods (driver and executors) and services.
// Resources that disappear between list and delete count as deleted.
func (k *Kubernetes) Deprovision(ctx context.Context, clusterID, tenantID string) error {
	namespace := types.NamespaceForTenant(tenantID)
	listOpts := metav1.ListOptions{LabelSelector: ClusterSelector(clusterID)}
	policy := metav1.DeletePropagationBackground
	deleteOpts := metav1.DeleteOptions{PropagationPolicy: &policy}

	var errs []error

	pods, err := k.client.CoreV1().Pods(namespace).List(ctx, listOpts)
	if err != nil && !apierrors.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("list pods: %w", err))
	} else if pods != nil {
		for i := range pods.Items {
			name := pods.Items[i].Name
			if err := k.client.CoreV1().Pods(namespace).Delete(ctx, name, deleteOpts); err != nil && !apierrors.IsNotFound(err) {
				errs = append(errs, fmt.Errorf("delete pod %s: %w", name, err))
			}
		}
	}

	services, err := k.client.CoreV1().Services(namespace).List(ctx, listOpts)
	if err != nil && !apierrors.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("list services: %w", err))
	} else if services != nil {
		for i := range services.Items {
			name := services.Items[i].Name
			if err := k.client.CoreV1().Services(namespace).Delete(ctx, name, deleteOpts); err != nil && !apierrors.IsNotFound(err) {
				errs = append(errs, fmt.Errorf("delete service %s: %w", name, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return types.NewProvisionError(OpDeprovision, clusterID, err)
	}

	k.logger.Info("Deleted cluster resources",
		log.ClusterID(clusterID),
		log.TenantID(tenantID),
		log.Int("pods", len(itemsOrEmpty(pods))),
	)
	return nil
}

func itemsOrEmpty(pods *corev1.PodList) []corev1.Pod {
	if pods == nil {
		return nil
	}
	return pods.Items
}

// LocateUIEndpoint reads the driver pod's IP. A missing pod or a pod that has not
// been scheduled yet yields "".
func (k *Kubernetes) LocateUIEndpoint(ctx context.Context, clusterID, tenantID string) (string, error) {
	namespace := types.NamespaceForTenant(tenantID)
	pod, err := k.client.CoreV1().Pods(namespace).Get(ctx, types.DriverNameForCluster(clusterID), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", types.NewProvisionError(OpLocateUI, clusterID, fmt.Errorf("get driver pod: %w", err))
	}
	return k.uiEndpoint(pod), nil
}

func (k *Kubernetes) uiEndpoint(pod *corev1.Pod) string {
	if pod == nil || pod.Status.PodIP == "" {
		return ""
	}

	port := k.uiPort
	for _, c := range pod.Spec.Containers {
		for _, p := range c.Ports {
			if p.Name == uiPortName {
				port = p.ContainerPort
			}
		}
	}
	return fmt.Sprintf("http://%s:%d", pod.Status.PodIP, port)
}

// ensureNamespace creates the tenant namespace. An existing namespace is fine.
func (k *Kubernetes) ensureNamespace(ctx context.Context, tenantID string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   types.NamespaceForTenant(tenantID),
			Labels: NamespaceLabels(tenantID),
		},
	}

	_, err := k.client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err == nil {
		k.logger.Info("Created tenant namespace", log.TenantID(tenantID), log.Str("namespace", ns.Name))
		return nil
	}
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return fmt.Errorf("create namespace %s: %w", ns.Name, err)
}

func (k *Kubernetes) driverPod(clusterID, tenantID string, shape types.ResourceShape) (*corev1.Pod, error) {
	driverBytes, err := types.ParseSparkMemory(shape.DriverMemory)
	if err != nil {
		return nil, fmt.Errorf("driver memory: %w", err)
	}
	memory, err := resource.ParseQuantity(types.FormatMemory(driverContainerMemory(driverBytes)))
	if err != nil {
		return nil, fmt.Errorf("driver memory: %w", err)
	}
	cpu := *resource.NewQuantity(int64(shape.DriverCores), resource.DecimalSI)

	resources := corev1.ResourceList{
		corev1.ResourceMemory: memory,
		corev1.ResourceCPU:    cpu,
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      types.DriverNameForCluster(clusterID),
			Namespace: types.NamespaceForTenant(tenantID),
			Labels:    NewLabelBuilder(clusterID, tenantID).WithComponent(ComponentDriver).Build(),
		},
		Spec: corev1.PodSpec{
			ServiceAccountName: k.serviceAccount,
			RestartPolicy:      corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:            driverContainerName,
					Image:           k.image,
					ImagePullPolicy: k.imagePullPolicy,
					Command:         []string{sparkSubmit},
					Args:            k.sparkSubmitArgs(clusterID, tenantID, shape),
					Resources: corev1.ResourceRequirements{
						Requests: resources,
						Limits:   resources.DeepCopy(),
					},
					Ports: []corev1.ContainerPort{
						{Name: uiPortName, ContainerPort: k.uiPort, Protocol: corev1.ProtocolTCP},
						{Name: "driver-rpc", ContainerPort: DefaultDriverPort, Protocol: corev1.ProtocolTCP},
						{Name: "blockmanager", ContainerPort: DefaultBlockPort, Protocol: corev1.ProtocolTCP},
					},
				},
			},
		},
	}, nil
}

// driverContainerMemory adds Spark's default memory overhead to the JVM heap size.
func driverContainerMemory(heap int64) int64 {
	overhead := int64(float64(heap) * memoryOverheadFactor)
	if overhead < minMemoryOverhead {
		overhead = minMemoryOverhead
	}
	// round up to whole MiB so the quantity stays readable
	total := heap + overhead
	const mib = 1 << 20
	if rem := total % mib; rem != 0 {
		total += mib - rem
	}
	return total
}

func (k *Kubernetes) sparkSubmitArgs(clusterID, tenantID string, shape types.ResourceShape) []string {
	namespace := types.NamespaceForTenant(tenantID)
	driverName := types.DriverNameForCluster(clusterID)

	conf := [][2]string{
		{"spark.kubernetes.namespace", namespace},
		{"spark.kubernetes.container.image", k.image},
		{"spark.kubernetes.driver.pod.name", driverName},
		{"spark.driver.host", fmt.Sprintf("%s.%s.svc", driverName, namespace)},
		{"spark.driver.port", strconv.Itoa(DefaultDriverPort)},
		{"spark.driver.blockManager.port", strconv.Itoa(DefaultBlockPort)},
		{"spark.driver.memory", shape.DriverMemory},
		{"spark.driver.cores", strconv.Itoa(shape.DriverCores)},
		{"spark.executor.instances", strconv.Itoa(shape.ExecutorCount)},
		{"spark.executor.memory", shape.ExecutorMemory},
		{"spark.executor.cores", strconv.Itoa(shape.ExecutorCores)},
		{"spark.ui.port", strconv.Itoa(int(k.uiPort))},
		{"spark.kubernetes.executor.label." + KeyClusterID, clusterID},
		{"spark.kubernetes.executor.label." + KeyTenantID, tenantID},
		{"spark.kubernetes.executor.label." + KeyComponent, ComponentExecutor},
	}
	if k.serviceAccount != "" {
		conf = append(conf, [2]string{"spark.kubernetes.authenticate.serviceAccountName", k.serviceAccount})
	}

	args := []string{
		"--master", k.masterURL,
		"--deploy-mode", "client",
		"--name", clusterID,
	}
	for _, kv := range conf {
		args = append(args, "--conf", kv[0]+"="+kv[1])
	}
	return append(args, "--class", replMainClass, "spark-shell")
}

func (k *Kubernetes) driverService(clusterID, tenantID string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      types.DriverNameForCluster(clusterID),
			Namespace: types.NamespaceForTenant(tenantID),
			Labels:    NewLabelBuilder(clusterID, tenantID).WithComponent(ComponentDriver).Build(),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector: map[string]string{
				KeyClusterID: clusterID,
				KeyComponent: ComponentDriver,
			},
			Ports: []corev1.ServicePort{
				{Name: uiPortName, Port: k.uiPort},
				{Name: "driver-rpc", Port: DefaultDriverPort},
				{Name: "blockmanager", Port: DefaultBlockPort},
			},
		},
	}
}
