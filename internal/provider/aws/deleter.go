package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/sweep/pkg/resource"
)

// singleAttempt disables SDK level retries; the executor owns retry policy.
func singleAttempt(o *ec2.Options) {
	o.Retryer = retry.AddWithMaxAttempts(o.Retryer, 1)
}

// Delete issues the destructive call for one resource. Errors are classified
// for the executor's retry policy.
func (p *Provider) Delete(ctx context.Context, kind resource.Kind, id string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return &providerError{op: "rate limit", id: id, code: "RateLimitWait", transient: true, err: err}
	}

	var (
		op  string
		err error
	)
	switch kind {
	case resource.KindInstance:
		op = "terminate instance"
		_, err = p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{id},
		}, singleAttempt)
	case resource.KindVolume:
		op = "delete volume"
		_, err = p.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)}, singleAttempt)
	case resource.KindImage:
		op = "deregister image"
		_, err = p.client.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(id)}, singleAttempt)
	case resource.KindSnapshot:
		op = "delete snapshot"
		_, err = p.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)}, singleAttempt)
	default:
		return &providerError{op: "delete", id: id, code: "UnsupportedKind", err: fmt.Errorf("unsupported resource kind %q", kind)}
	}

	if err != nil {
		pe := classify(op, id, err)
		p.logger.Debug().
			Err(err).
			Str("kind", kind.String()).
			Str("resource_id", id).
			Bool("transient", pe.transient).
			Msg("provider call failed")
		return pe
	}
	return nil
}
