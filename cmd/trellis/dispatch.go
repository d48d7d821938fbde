package main

import (
	"encoding/json"
	"fmt"

	"github.com/trellis-mcp/trellis/internal/claimengine"
	"github.com/trellis-mcp/trellis/internal/completion"
	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/rpc"
)

// dispatch decodes env.Payload into the request shape the named operation
// expects, defaults ProjectRoot to defaultRoot when the caller omits it,
// and invokes the matching Server method.
func dispatch(srv *rpc.Server, defaultRoot string, env requestEnvelope) responseEnvelope {
	switch env.Op {
	case "createObject":
		var req rpc.CreateObjectRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		obj, err := srv.CreateObject(req)
		return result(env.ID, obj, err)

	case "getObject":
		var req rpc.GetObjectRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		res, err := srv.GetObject(req)
		return result(env.ID, res, err)

	case "updateObject":
		var req rpc.UpdateObjectRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		obj, err := srv.UpdateObject(req)
		return result(env.ID, obj, err)

	case "deleteObject":
		var req rpc.DeleteObjectRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		err := srv.DeleteObject(req)
		return result(env.ID, nil, err)

	case "claimNextTask":
		var req claimengine.Request
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		obj, err := srv.ClaimNextTask(req)
		return result(env.ID, obj, err)

	case "completeTask":
		var req completion.Request
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		obj, err := srv.CompleteTask(req)
		return result(env.ID, obj, err)

	case "getNextReviewableTask":
		var req rpc.GetObjectRequest // reuse for its ProjectRoot field
		if len(env.Payload) > 0 {
			if err := decode(env.Payload, &req); err != nil {
				return result(env.ID, nil, err)
			}
		}
		root := withDefault(req.ProjectRoot, defaultRoot)
		obj, err := srv.GetNextReviewableTask(root)
		return result(env.ID, obj, err)

	case "listBacklog":
		var req rpc.ListBacklogRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		tasks, err := srv.ListBacklog(req)
		return result(env.ID, tasks, err)

	case "getCompletedObjects":
		var req rpc.GetCompletedObjectsRequest
		if err := decode(env.Payload, &req); err != nil {
			return result(env.ID, nil, err)
		}
		req.ProjectRoot = withDefault(req.ProjectRoot, defaultRoot)
		objs, err := srv.GetCompletedObjects(req)
		return result(env.ID, objs, err)

	default:
		return errorResponse(env.ID, fmt.Sprintf("unknown operation %q", env.Op))
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// result builds a response envelope, sanitizing err into the §4.10 RPC
// error shape at this boundary. Every error that crosses into this
// function — whether already an *errtax.Error or a plain wrapped os/io
// error from deeper in the stack — is converted via errtax.FromError, so
// nothing reaches the client with a raw absolute path or other
// unsanitized detail (§7, §8 property 8).
func result(id string, v any, err error) responseEnvelope {
	if err != nil {
		e := errtax.FromError(err)
		return responseEnvelope{ID: id, Error: &errorPayload{Code: string(e.Code), Message: e.Message, Context: e.Context}}
	}
	return responseEnvelope{ID: id, Result: v}
}
