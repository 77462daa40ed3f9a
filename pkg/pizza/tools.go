package pizza

import (
	"context"
	"errors"
	"fmt"

	"github.com/contoso/sofia/pkg/toolexecutor"
)

type calculateArgs struct {
	PeopleCount   int    `json:"people_count" jsonschema:"minimum=1" jsonschema_description:"How many people will be eating"`
	AppetiteLevel string `json:"appetite_level,omitempty" jsonschema:"enum=light,enum=normal,enum=hungry" jsonschema_description:"How hungry the group is; defaults to normal"`
}

type placeOrderItem struct {
	Item     string `json:"item" jsonschema_description:"Menu item id or name"`
	Size     string `json:"size,omitempty" jsonschema:"enum=small,enum=medium,enum=large" jsonschema_description:"Pizza size; defaults to medium"`
	Quantity int    `json:"quantity" jsonschema:"minimum=1" jsonschema_description:"How many of this pizza"`
}

type placeOrderArgs struct {
	Customer string           `json:"customer" jsonschema_description:"Name the order is for"`
	Items    []placeOrderItem `json:"items" jsonschema_description:"Pizzas to order"`
	Notes    string           `json:"notes,omitempty" jsonschema_description:"Delivery or preparation notes"`
}

// Tools returns the Contoso Pizza tool definitions backed by store.
// These are the functions Sofia can call, locally and through MCP.
func Tools(store *OrderStore) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "calculate_pizza_order",
			Description: "Calculate how many pizzas to order for a group of people based on their appetite.",
			Category:    toolexecutor.CategoryRead,
			InputSchema: toolexecutor.GenerateSchema[calculateArgs](),
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				args, err := toolexecutor.DecodeParams[calculateArgs](params)
				if err != nil {
					return nil, err
				}
				return Calculate(args.PeopleCount, args.AppetiteLevel)
			},
		},
		{
			Name:        "get_menu",
			Description: "Get the full Contoso Pizza menu with prices, toppings, and vegetarian flags.",
			Category:    toolexecutor.CategoryRead,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{
					"items": Menu(),
					"sizes": Sizes(),
				}, nil
			},
		},
		{
			Name:        "search_menu",
			Description: "Search the menu by name, topping, or dietary keyword.",
			Category:    toolexecutor.CategoryRead,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Search term, e.g. 'pepperoni' or 'vegetarian'", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				query, _ := params["query"].(string)
				matches := SearchMenu(query)
				if len(matches) == 0 {
					return map[string]interface{}{"items": []MenuItem{}, "message": "no menu items matched"}, nil
				}
				return map[string]interface{}{"items": matches}, nil
			},
		},
		{
			Name:             "place_order",
			Description:      "Place a pizza order for delivery. Confirm the items with the guest first.",
			Category:         toolexecutor.CategoryWrite,
			ApprovalRequired: true,
			InputSchema:      toolexecutor.GenerateSchema[placeOrderArgs](),
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if store == nil {
					return nil, errors.New("order store is not configured")
				}
				args, err := toolexecutor.DecodeParams[placeOrderArgs](params)
				if err != nil {
					return nil, err
				}

				req := OrderRequest{Customer: args.Customer, Notes: args.Notes}
				for _, item := range args.Items {
					req.Items = append(req.Items, OrderLine{
						Item:     item.Item,
						Size:     item.Size,
						Quantity: item.Quantity,
					})
				}
				return store.PlaceOrder(ctx, req)
			},
		},
		{
			Name:        "get_order_status",
			Description: "Check the status and ETA of an existing order.",
			Category:    toolexecutor.CategoryRead,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "order_id", Type: "string", Description: "The order id, e.g. ord_V1StGXR8_Z5j", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if store == nil {
					return nil, errors.New("order store is not configured")
				}
				orderID, _ := params["order_id"].(string)
				order, err := store.GetOrder(ctx, orderID)
				if err != nil {
					if errors.Is(err, ErrOrderNotFound) {
						return nil, fmt.Errorf("no order with id %q", orderID)
					}
					return nil, err
				}
				return order, nil
			},
		},
		{
			Name:             "cancel_order",
			Description:      "Cancel an order that has not started baking yet.",
			Category:         toolexecutor.CategoryWrite,
			ApprovalRequired: true,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "order_id", Type: "string", Description: "The order id to cancel", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if store == nil {
					return nil, errors.New("order store is not configured")
				}
				orderID, _ := params["order_id"].(string)
				order, err := store.CancelOrder(ctx, orderID)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"order_id": order.ID,
					"status":   order.Status,
					"message":  "order cancelled, nothing will be charged",
				}, nil
			},
		},
	}
}

// ToolNames lists the pizza tool names, in definition order.
func ToolNames() []string {
	tools := Tools(nil)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

// RegisterTools registers every pizza tool with the executor.
func RegisterTools(executor *toolexecutor.ToolExecutor, store *OrderStore) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	for _, tool := range Tools(store) {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}
