package msgbus

// CommandKind is what a handler asks the runner to do at a yield point.
type CommandKind uint8

const (
	_command_beg CommandKind = iota
	CommandSend
	CommandPublish
	CommandRegister
	CommandDeregister
	CommandSubscribe
	CommandUnsubscribe
	_command_end
)

func (k CommandKind) IsAvailable() bool {
	return k > _command_beg && k < _command_end
}

func (k CommandKind) String() string {
	switch k {
	case CommandSend:
		return "send"
	case CommandPublish:
		return "publish"
	case CommandRegister:
		return "register"
	case CommandDeregister:
		return "deregister"
	case CommandSubscribe:
		return "subscribe"
	case CommandUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

// Command is yielded by a handler. Send and Publish become child tasks that
// finish before the handler resumes; the others mutate the bus at once.
type Command struct {
	Kind      CommandKind
	Topic     string
	Message   any
	HandlerID string
	Factory   HandlerFactory
	Priority  int
}

func Send(endpoint string, msg any) Command {
	return Command{Kind: CommandSend, Topic: endpoint, Message: msg}
}

func Publish(topic string, msg any) Command {
	return Command{Kind: CommandPublish, Topic: topic, Message: msg}
}

func Register(endpoint, handlerID string, factory HandlerFactory) Command {
	return Command{Kind: CommandRegister, Topic: endpoint, HandlerID: handlerID, Factory: factory}
}

func Deregister(endpoint string) Command {
	return Command{Kind: CommandDeregister, Topic: endpoint}
}

func Subscribe(pattern, handlerID string, factory HandlerFactory, priority int) Command {
	return Command{Kind: CommandSubscribe, Topic: pattern, HandlerID: handlerID, Factory: factory, Priority: priority}
}

func Unsubscribe(pattern, handlerID string) Command {
	return Command{Kind: CommandUnsubscribe, Topic: pattern, HandlerID: handlerID}
}
