package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/sweep/pkg/resource"
)

// List returns records of one kind in the order EC2 returns them.
func (p *Provider) List(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	var (
		records []resource.Record
		err     error
	)

	switch kind {
	case resource.KindInstance:
		records, err = p.listStoppedInstances(ctx)
	case resource.KindVolume:
		records, err = p.listAvailableVolumes(ctx)
	case resource.KindImage:
		var images []ec2types.Image
		images, err = p.describeOwnedImages(ctx)
		for _, img := range images {
			records = append(records, convertImage(img))
		}
	case resource.KindSnapshot:
		records, err = p.listOwnedSnapshots(ctx)
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Debug().Str("kind", kind.String()).Int("count", len(records)).Msg("listed resources")
	return records, nil
}

func (p *Provider) listStoppedInstances(ctx context.Context) ([]resource.Record, error) {
	var records []resource.Record
	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-state-name"), Values: []string{string(ec2types.InstanceStateNameStopped)}},
		},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				records = append(records, convertInstance(instance))
			}
		}
	}
	return records, nil
}

func convertInstance(instance ec2types.Instance) resource.Record {
	r := resource.Record{
		Kind:      resource.KindInstance,
		ID:        aws.ToString(instance.InstanceId),
		Tags:      convertTags(instance.Tags),
		CreatedAt: aws.ToTime(instance.LaunchTime),
	}
	r.Name = r.Tags["Name"]
	if instance.State != nil {
		r.PowerState = string(instance.State.Name)
	}
	return r
}

func (p *Provider) listAvailableVolumes(ctx context.Context) ([]resource.Record, error) {
	var records []resource.Record
	paginator := ec2.NewDescribeVolumesPaginator(p.client, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("status"), Values: []string{string(ec2types.VolumeStateAvailable)}},
		},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}
		for _, vol := range output.Volumes {
			records = append(records, convertVolume(vol))
		}
	}
	return records, nil
}

func convertVolume(vol ec2types.Volume) resource.Record {
	r := resource.Record{
		Kind:            resource.KindVolume,
		ID:              aws.ToString(vol.VolumeId),
		Tags:            convertTags(vol.Tags),
		CreatedAt:       aws.ToTime(vol.CreateTime),
		AttachmentState: resource.AttachmentUnattached,
	}
	r.Name = r.Tags["Name"]
	if len(vol.Attachments) > 0 {
		r.AttachmentState = resource.AttachmentAttached
	}
	return r
}

func (p *Provider) describeOwnedImages(ctx context.Context) ([]ec2types.Image, error) {
	var images []ec2types.Image
	paginator := ec2.NewDescribeImagesPaginator(p.client, &ec2.DescribeImagesInput{
		Owners: []string{"self"},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe images: %w", err)
		}
		images = append(images, output.Images...)
	}
	return images, nil
}

func convertImage(img ec2types.Image) resource.Record {
	r := resource.Record{
		Kind:        resource.KindImage,
		ID:          aws.ToString(img.ImageId),
		Name:        aws.ToString(img.Name),
		Tags:        convertTags(img.Tags),
		CreatedAt:   parseCreationDate(aws.ToString(img.CreationDate)),
		OwnedBySelf: true,
	}
	return r
}

// listOwnedSnapshots links each snapshot to the owned image whose block
// device mappings reference it.
func (p *Provider) listOwnedSnapshots(ctx context.Context) ([]resource.Record, error) {
	images, err := p.describeOwnedImages(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[string]string)
	for _, img := range images {
		for _, bdm := range img.BlockDeviceMappings {
			if bdm.Ebs != nil && bdm.Ebs.SnapshotId != nil {
				parents[aws.ToString(bdm.Ebs.SnapshotId)] = aws.ToString(img.ImageId)
			}
		}
	}

	var records []resource.Record
	paginator := ec2.NewDescribeSnapshotsPaginator(p.client, &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe snapshots: %w", err)
		}
		for _, snap := range output.Snapshots {
			r := convertSnapshot(snap)
			r.ParentImageID = parents[r.ID]
			records = append(records, r)
		}
	}
	return records, nil
}

func convertSnapshot(snap ec2types.Snapshot) resource.Record {
	r := resource.Record{
		Kind:        resource.KindSnapshot,
		ID:          aws.ToString(snap.SnapshotId),
		Tags:        convertTags(snap.Tags),
		CreatedAt:   aws.ToTime(snap.StartTime),
		OwnedBySelf: true,
	}
	r.Name = r.Tags["Name"]
	return r
}

func convertTags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}

// parseCreationDate parses an AMI CreationDate. Unparseable dates yield the
// zero time, which never qualifies by age.
func parseCreationDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
