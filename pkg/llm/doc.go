package llm

//go:generate protoc --go_out=. --go_opt=module=github.com/tarsy-oss/funnel --go-grpc_out=. --go-grpc_opt=module=github.com/tarsy-oss/funnel ../../proto/llm.proto
