package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assume_role_policy"`
	Description      string            `json:"description,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

type RoleOutputs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) planRole(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		return nil, fmt.Errorf("aws.iam.Role requires 'name'")
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior RoleConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	_, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{
		RoleName: aws.String(prior.Name),
	})
	if err != nil {
		var nse *iamtypes.NoSuchEntityException
		if errors.As(err, &nse) {
			return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to check role existence: %w", err)
	}

	if prior.Name != desired.Name {
		// Role names are immutable.
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"name"},
		}, nil
	}

	var changes []string
	if prior.AssumeRolePolicy != desired.AssumeRolePolicy {
		changes = append(changes, "assume_role_policy")
	}
	if prior.Description != desired.Description {
		changes = append(changes, "description")
	}
	if !tagsEqual(prior.Tags, desired.Tags) {
		changes = append(changes, "tags")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate, ChangedAttributes: changes}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) applyRole(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	input := &iam.CreateRoleInput{
		RoleName:                 aws.String(desired.Name),
		AssumeRolePolicyDocument: aws.String(desired.AssumeRolePolicy),
	}
	if desired.Description != "" {
		input.Description = aws.String(desired.Description)
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, iamtypes.Tag{
			Key:   aws.String(k),
			Value: aws.String(v),
		})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		var exists *iamtypes.EntityAlreadyExistsException
		if !errors.As(err, &exists) {
			return nil, fmt.Errorf("failed to create role: %w", err)
		}
		// Converge in place: refresh the trust policy on the existing role.
		_, err = p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       aws.String(desired.Name),
			PolicyDocument: aws.String(desired.AssumeRolePolicy),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update role trust policy: %w", err)
		}
		got, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{
			RoleName: aws.String(desired.Name),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read role: %w", err)
		}
		return roleResponse(got.Role)
	}

	return roleResponse(resp.Role)
}

func roleResponse(role *iamtypes.Role) (*sdk.ApplyResponse, error) {
	outputs := RoleOutputs{
		ID:   aws.ToString(role.RoleName),
		Name: aws.ToString(role.RoleName),
		ARN:  aws.ToString(role.Arn),
	}
	outputsJSON, _ := json.Marshal(outputs)
	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) destroyRole(ctx context.Context, req *sdk.DestroyRequest) error {
	var prior RoleConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		return nil
	}

	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: aws.String(prior.Name),
	})
	if err != nil {
		var nse *iamtypes.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil
		}
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

type PolicyConfig struct {
	Name        string `json:"name"`
	Policy      string `json:"policy"`
	Description string `json:"description,omitempty"`
}

type PolicyOutputs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) planPolicy(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired PolicyConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" || desired.Policy == "" {
		return nil, fmt.Errorf("aws.iam.Policy requires 'name' and 'policy'")
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior PolicyConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if prior.Name != desired.Name {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"name"},
		}, nil
	}

	var changes []string
	if prior.Policy != desired.Policy {
		// Managed policy documents can only change by versioning, which
		// this provider does not track. Replace instead.
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"policy"},
		}, nil
	}
	if prior.Description != desired.Description {
		changes = append(changes, "description")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate, ChangedAttributes: changes}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) applyPolicy(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired PolicyConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	input := &iam.CreatePolicyInput{
		PolicyName:     aws.String(desired.Name),
		PolicyDocument: aws.String(desired.Policy),
	}
	if desired.Description != "" {
		input.Description = aws.String(desired.Description)
	}

	resp, err := p.iamClient.CreatePolicy(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	outputs := PolicyOutputs{
		ID:   aws.ToString(resp.Policy.Arn),
		Name: aws.ToString(resp.Policy.PolicyName),
		ARN:  aws.ToString(resp.Policy.Arn),
	}
	outputsJSON, _ := json.Marshal(outputs)
	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) destroyPolicy(ctx context.Context, req *sdk.DestroyRequest) error {
	if req.ID == "" {
		return nil
	}

	_, err := p.iamClient.DeletePolicy(ctx, &iam.DeletePolicyInput{
		PolicyArn: aws.String(req.ID),
	})
	if err != nil {
		var nse *iamtypes.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil
		}
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return nil
}
