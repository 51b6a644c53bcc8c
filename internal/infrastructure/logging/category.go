package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	MongoDB         Category = "MongoDB"
	Storage         Category = "Storage"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
	Websocket       Category = "Websocket"
	Stock           Category = "Stock"
	Worker          Category = "Worker"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Broker
	Connection   SubCategory = "Connection"
	Publish      SubCategory = "Publish"
	Subscribe    SubCategory = "Subscribe"
	Consume      SubCategory = "Consume"
	MalformedMsg SubCategory = "MalformedMessage"

	// Pipeline
	CommandHandling SubCategory = "CommandHandling"
	QuoteHandling   SubCategory = "QuoteHandling"
	QuoteLookup     SubCategory = "QuoteLookup"
	Broadcast       SubCategory = "Broadcast"
	Persist         SubCategory = "Persist"
	Identity        SubCategory = "Identity"
	Supervision     SubCategory = "Supervision"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	ClientIp     ExtraKey = "ClientIp"
	HostIp       ExtraKey = "HostIp"
	Method       ExtraKey = "Method"
	StatusCode   ExtraKey = "StatusCode"
	BodySize     ExtraKey = "BodySize"
	Path         ExtraKey = "Path"
	Latency      ExtraKey = "Latency"
	RequestBody  ExtraKey = "RequestBody"
	ResponseBody ExtraKey = "ResponseBody"
	ErrorMessage ExtraKey = "ErrorMessage"
	RoutingKey   ExtraKey = "RoutingKey"
	Queue        ExtraKey = "Queue"
	RoomID       ExtraKey = "RoomId"
	Username     ExtraKey = "Username"
	StockCode    ExtraKey = "StockCode"
	WorkerName   ExtraKey = "Worker"
	Attempt      ExtraKey = "Attempt"
	ClientID     ExtraKey = "ClientID"
)
