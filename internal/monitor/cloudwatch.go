package monitor

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/imrishuroy/go-payflow/internal/aws"
	"github.com/imrishuroy/go-payflow/internal/queue"
)

// CloudWatchSink publishes a JobEvents count per queue and event type, plus
// JobDuration for finished attempts.
type CloudWatchSink struct {
	client    aws.CloudWatchAPI
	namespace string
}

func NewCloudWatchSink(client aws.CloudWatchAPI, namespace string) *CloudWatchSink {
	return &CloudWatchSink{client: client, namespace: namespace}
}

func (s *CloudWatchSink) Handle(ctx context.Context, ev queue.Event) error {
	dims := []types.Dimension{
		{Name: sdkaws.String("Queue"), Value: sdkaws.String(ev.Queue)},
		{Name: sdkaws.String("Event"), Value: sdkaws.String(string(ev.Type))},
	}
	data := []types.MetricDatum{{
		MetricName: sdkaws.String("JobEvents"),
		Dimensions: dims,
		Timestamp:  sdkaws.Time(ev.Timestamp),
		Unit:       types.StandardUnitCount,
		Value:      sdkaws.Float64(1),
	}}
	if ev.Duration > 0 {
		data = append(data, types.MetricDatum{
			MetricName: sdkaws.String("JobDuration"),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(ev.Timestamp),
			Unit:       types.StandardUnitMilliseconds,
			Value:      sdkaws.Float64(float64(ev.Duration.Milliseconds())),
		})
	}
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(s.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func (s *CloudWatchSink) Close() error { return nil }
