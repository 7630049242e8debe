package sqs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const explicitZeroID = "CommonMQExplicitZero"

// explicitZero makes the request body carry the named integer members even
// when they are zero. The SDK drops zero integers, which SQS reads as "use
// the queue default".
func explicitZero(names ...string) []func(*awssqs.Options) {
	if len(names) == 0 {
		return nil
	}
	return []func(*awssqs.Options){
		func(o *awssqs.Options) {
			o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
				return stack.Serialize.Add(explicitZeroMiddleware(names), middleware.After)
			})
		},
	}
}

func explicitZeroMiddleware(names []string) middleware.SerializeMiddleware {
	return middleware.SerializeMiddlewareFunc(explicitZeroID, func(
		ctx context.Context, in middleware.SerializeInput, next middleware.SerializeHandler,
	) (middleware.SerializeOutput, middleware.Metadata, error) {
		req, ok := in.Request.(*smithyhttp.Request)
		if !ok {
			return next.HandleSerialize(ctx, in)
		}
		body, err := setZeroMembers(req.GetStream(), names)
		if err != nil {
			return middleware.SerializeOutput{}, middleware.Metadata{}, err
		}
		if in.Request, err = req.SetStream(bytes.NewReader(body)); err != nil {
			return middleware.SerializeOutput{}, middleware.Metadata{}, err
		}
		return next.HandleSerialize(ctx, in)
	})
}

// setZeroMembers adds each missing name to the JSON object read from r with
// the value 0.
func setZeroMembers(r io.Reader, names []string) ([]byte, error) {
	members := map[string]json.RawMessage{}
	if r != nil {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &members); err != nil {
				return nil, fmt.Errorf("failed to decode request body: %w", err)
			}
		}
	}
	for _, name := range names {
		if _, ok := members[name]; !ok {
			members[name] = json.RawMessage("0")
		}
	}
	return json.Marshal(members)
}
