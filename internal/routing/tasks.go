package routing

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
)

const TaskLeadRoute = "lead.route"

const defaultQueue = "routing"

func NewLeadRouteTask(payload qualdomain.RouteRequest) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadRoute, data), nil
}

func ParseLeadRoutePayload(task *asynq.Task) (qualdomain.RouteRequest, error) {
	var payload qualdomain.RouteRequest
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return qualdomain.RouteRequest{}, err
	}
	return payload, nil
}

func redisClientOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
}
