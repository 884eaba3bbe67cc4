package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/sweep/internal/executor"
	"github.com/yairfalse/sweep/pkg/resource"
)

// mockEC2Client implements EC2API for testing.
type mockEC2Client struct {
	DescribeInstancesFunc  func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumesFunc    func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeImagesFunc     func(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeSnapshotsFunc  func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	TerminateInstancesFunc func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DeleteVolumeFunc       func(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DeregisterImageFunc    func(ctx context.Context, params *ec2.DeregisterImageInput, optFns ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error)
	DeleteSnapshotFunc     func(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)

	deleted []string
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.DescribeInstancesFunc != nil {
		return m.DescribeInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (m *mockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.DescribeVolumesFunc != nil {
		return m.DescribeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *mockEC2Client) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	if m.DescribeImagesFunc != nil {
		return m.DescribeImagesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeImagesOutput{}, nil
}

func (m *mockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	if m.DescribeSnapshotsFunc != nil {
		return m.DescribeSnapshotsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSnapshotsOutput{}, nil
}

func (m *mockEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	m.deleted = append(m.deleted, "terminate:"+params.InstanceIds[0])
	if m.TerminateInstancesFunc != nil {
		return m.TerminateInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (m *mockEC2Client) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	m.deleted = append(m.deleted, "volume:"+aws.ToString(params.VolumeId))
	if m.DeleteVolumeFunc != nil {
		return m.DeleteVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteVolumeOutput{}, nil
}

func (m *mockEC2Client) DeregisterImage(ctx context.Context, params *ec2.DeregisterImageInput, optFns ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error) {
	m.deleted = append(m.deleted, "image:"+aws.ToString(params.ImageId))
	if m.DeregisterImageFunc != nil {
		return m.DeregisterImageFunc(ctx, params, optFns...)
	}
	return &ec2.DeregisterImageOutput{}, nil
}

func (m *mockEC2Client) DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	m.deleted = append(m.deleted, "snapshot:"+aws.ToString(params.SnapshotId))
	if m.DeleteSnapshotFunc != nil {
		return m.DeleteSnapshotFunc(ctx, params, optFns...)
	}
	return &ec2.DeleteSnapshotOutput{}, nil
}

func newTestProvider(client EC2API) *Provider {
	return NewWithClient(client, Config{Region: "us-east-1"})
}

func TestList_StoppedInstances(t *testing.T) {
	launch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var pages int
	mock := &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			require.Len(t, params.Filters, 1)
			assert.Equal(t, "instance-state-name", aws.ToString(params.Filters[0].Name))
			assert.Equal(t, []string{"stopped"}, params.Filters[0].Values)

			pages++
			if params.NextToken == nil {
				return &ec2.DescribeInstancesOutput{
					Reservations: []types.Reservation{{Instances: []types.Instance{{
						InstanceId: aws.String("i-1"),
						LaunchTime: aws.Time(launch),
						State:      &types.InstanceState{Name: types.InstanceStateNameStopped},
						Tags:       []types.Tag{{Key: aws.String("Name"), Value: aws.String("web")}},
					}}}},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{{Instances: []types.Instance{{
					InstanceId: aws.String("i-2"),
					State:      &types.InstanceState{Name: types.InstanceStateNameStopped},
				}}}},
			}, nil
		},
	}

	records, err := newTestProvider(mock).List(context.Background(), resource.KindInstance)

	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	require.Len(t, records, 2)
	assert.Equal(t, "i-1", records[0].ID)
	assert.Equal(t, resource.KindInstance, records[0].Kind)
	assert.Equal(t, "web", records[0].Name)
	assert.Equal(t, resource.PowerStateStopped, records[0].PowerState)
	assert.Equal(t, launch, records[0].CreatedAt)
	assert.False(t, records[1].HasCreatedAt())
}

func TestList_Volumes(t *testing.T) {
	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockEC2Client{
		DescribeVolumesFunc: func(_ context.Context, params *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			assert.Equal(t, []string{"available"}, params.Filters[0].Values)
			return &ec2.DescribeVolumesOutput{Volumes: []types.Volume{
				{VolumeId: aws.String("vol-1"), CreateTime: aws.Time(created)},
				{VolumeId: aws.String("vol-2"), Attachments: []types.VolumeAttachment{{InstanceId: aws.String("i-1")}}},
			}}, nil
		},
	}

	records, err := newTestProvider(mock).List(context.Background(), resource.KindVolume)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, resource.AttachmentUnattached, records[0].AttachmentState)
	assert.Equal(t, created, records[0].CreatedAt)
	assert.Equal(t, resource.AttachmentAttached, records[1].AttachmentState)
}

func ownedImages() []types.Image {
	return []types.Image{{
		ImageId:      aws.String("ami-1"),
		Name:         aws.String("golden"),
		CreationDate: aws.String("2025-01-02T03:04:05.000Z"),
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{Ebs: &types.EbsBlockDevice{SnapshotId: aws.String("snap-1")}},
			{DeviceName: aws.String("/dev/sdb")},
		},
	}}
}

func TestList_Images(t *testing.T) {
	mock := &mockEC2Client{
		DescribeImagesFunc: func(_ context.Context, params *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
			assert.Equal(t, []string{"self"}, params.Owners)
			return &ec2.DescribeImagesOutput{Images: ownedImages()}, nil
		},
	}

	records, err := newTestProvider(mock).List(context.Background(), resource.KindImage)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ami-1", records[0].ID)
	assert.Equal(t, "golden", records[0].Name)
	assert.True(t, records[0].OwnedBySelf)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), records[0].CreatedAt)
}

func TestList_SnapshotsLinkedToImages(t *testing.T) {
	mock := &mockEC2Client{
		DescribeImagesFunc: func(context.Context, *ec2.DescribeImagesInput, ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
			return &ec2.DescribeImagesOutput{Images: ownedImages()}, nil
		},
		DescribeSnapshotsFunc: func(_ context.Context, params *ec2.DescribeSnapshotsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
			assert.Equal(t, []string{"self"}, params.OwnerIds)
			return &ec2.DescribeSnapshotsOutput{Snapshots: []types.Snapshot{
				{SnapshotId: aws.String("snap-1"), StartTime: aws.Time(time.Now())},
				{SnapshotId: aws.String("snap-2")},
			}}, nil
		},
	}

	records, err := newTestProvider(mock).List(context.Background(), resource.KindSnapshot)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ami-1", records[0].ParentImageID)
	assert.Empty(t, records[1].ParentImageID)
}

func TestList_Errors(t *testing.T) {
	boom := errors.New("access denied")
	mock := &mockEC2Client{
		DescribeImagesFunc: func(context.Context, *ec2.DescribeImagesInput, ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
			return nil, boom
		},
	}
	p := newTestProvider(mock)

	_, err := p.List(context.Background(), resource.KindSnapshot)
	assert.ErrorIs(t, err, boom)

	_, err = p.List(context.Background(), resource.Kind("bucket"))
	assert.Error(t, err)
}

func TestParseCreationDate(t *testing.T) {
	assert.True(t, parseCreationDate("").IsZero())
	assert.True(t, parseCreationDate("yesterday").IsZero())
	assert.Equal(t, 2024, parseCreationDate("2024-06-01T00:00:00Z").Year())
}

func TestDelete_DispatchesByKind(t *testing.T) {
	mock := &mockEC2Client{}
	p := newTestProvider(mock)
	ctx := context.Background()

	require.NoError(t, p.Delete(ctx, resource.KindInstance, "i-1"))
	require.NoError(t, p.Delete(ctx, resource.KindVolume, "vol-1"))
	require.NoError(t, p.Delete(ctx, resource.KindImage, "ami-1"))
	require.NoError(t, p.Delete(ctx, resource.KindSnapshot, "snap-1"))

	assert.Equal(t, []string{"terminate:i-1", "volume:vol-1", "image:ami-1", "snapshot:snap-1"}, mock.deleted)
	assert.Error(t, p.Delete(ctx, resource.Kind("bucket"), "b-1"))
}

func TestDelete_DisablesSDKRetries(t *testing.T) {
	var applied int
	mock := &mockEC2Client{
		DeleteVolumeFunc: func(_ context.Context, _ *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
			applied = len(optFns)
			return &ec2.DeleteVolumeOutput{}, nil
		},
	}

	require.NoError(t, newTestProvider(mock).Delete(context.Background(), resource.KindVolume, "vol-1"))
	assert.Equal(t, 1, applied)
}

func TestDelete_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		reason    string
	}{
		{
			name:   "volume in use",
			err:    &smithy.GenericAPIError{Code: "VolumeInUse", Message: "attached"},
			reason: "VolumeInUse",
		},
		{
			name:      "throttled",
			err:       &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "slow down"},
			transient: true,
			reason:    "RequestLimitExceeded",
		},
		{
			name:      "server fault",
			err:       &smithy.GenericAPIError{Code: "Boom", Fault: smithy.FaultServer},
			transient: true,
			reason:    "Boom",
		},
		{
			name:      "internal error",
			err:       &smithy.GenericAPIError{Code: "InternalError"},
			transient: true,
			reason:    "InternalError",
		},
		{
			name:      "deadline",
			err:       fmt.Errorf("operation error EC2: %w", context.DeadlineExceeded),
			transient: true,
			reason:    "operation error EC2: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEC2Client{
				DeleteSnapshotFunc: func(context.Context, *ec2.DeleteSnapshotInput, ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
					return nil, tt.err
				},
			}

			err := newTestProvider(mock).Delete(context.Background(), resource.KindSnapshot, "snap-1")

			require.Error(t, err)
			assert.Equal(t, tt.transient, executor.IsTransient(err))
			assert.Equal(t, tt.reason, executor.Reason(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
