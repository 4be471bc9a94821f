package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/SofiaNunes/distcoord/pkg/bulkfs/localfs"
	"github.com/SofiaNunes/distcoord/pkg/clientcache"
	"github.com/SofiaNunes/distcoord/pkg/coordinator"
	"github.com/SofiaNunes/distcoord/pkg/execrpc"
	"github.com/SofiaNunes/distcoord/pkg/schedule"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run one query through the coordinator against an in-process mock worker pool",
	RunE:  runDemo,
}

func init() {
	demoCmd.Flags().Int("instances", 3, "number of mock worker fragment instances")
	demoCmd.Flags().Int("reports", 3, "number of progress reports each instance sends before completing")
	demoCmd.Flags().Duration("report-interval", 50*time.Millisecond, "delay between an instance's progress reports")
	demoCmd.Flags().Int("dispatch-concurrency", 0, "RPC dispatch concurrency (0 = unbounded)")
	demoCmd.Flags().Duration("rpc-timeout", 30*time.Second, "RPC timeout")
	demoCmd.Flags().Bool("dml", false, "simulate an INSERT statement and run the DML finalizer against a local scratch directory")
	demoCmd.Flags().Int64("rows-per-instance", 1000, "rows each instance reports written, only used with --dml")

	if err := v.BindPFlags(demoCmd.Flags()); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("COORDINATORCTL")
	v.AutomaticEnv()
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	instances := v.GetInt("instances")
	reports := v.GetInt("reports")
	interval := v.GetDuration("report-interval")
	dispatchConcurrency := v.GetInt("dispatch-concurrency")
	rpcTimeout := v.GetDuration("rpc-timeout")
	dml := v.GetBool("dml")
	rowsPerInstance := v.GetInt64("rows-per-instance")
	if !dml {
		rowsPerInstance = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout*time.Duration(reports+2))
	defer cancel()

	var baseDir, stagingDir string
	if dml {
		var err error
		baseDir, err = os.MkdirTemp("", "coordinatorctl-base-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(baseDir)
		stagingDir, err = os.MkdirTemp("", "coordinatorctl-staging-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(stagingDir)
	}

	coordLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listening for coordinator status server: %w", err)
	}
	defer coordLis.Close()

	coordHost, coordPortStr, err := net.SplitHostPort(coordLis.Addr().String())
	if err != nil {
		return err
	}
	coordPort, err := strconv.Atoi(coordPortStr)
	if err != nil {
		return err
	}

	queryID := execrpc.NewQueryID()
	conns := clientcache.New()
	fsDriver := localfs.New(dispatchConcurrency)
	config := coordinator.DefaultConfig()
	config.RPCDispatchConcurrency = dispatchConcurrency
	config.RPCTimeout = rpcTimeout
	config.CoordinatorHost = coordHost
	config.CoordinatorPort = coordPort
	coord := coordinator.New(queryID, conns, fsDriver, config, log)

	coordSrv := grpc.NewServer()
	execrpc.RegisterCoordinatorServer(coordSrv, coord)
	go func() {
		if err := coordSrv.Serve(coordLis); err != nil {
			log.Debug().Err(err).Msg("coordinator status server stopped")
		}
	}()
	defer coordSrv.Stop()

	var instanceParams []schedule.InstanceExecParams
	var workerServers []*grpc.Server
	defer func() {
		for _, s := range workerServers {
			s.Stop()
		}
	}()

	for i := 0; i < instances; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("listening for mock worker %d: %w", i, err)
		}
		mw := newMockWorker(coordLis.Addr().String(), reports, interval, rowsPerInstance, stagingDir, baseDir, log)
		workerSrv := grpc.NewServer()
		execrpc.RegisterWorkerServer(workerSrv, mw)
		go func() {
			if err := workerSrv.Serve(lis); err != nil {
				log.Debug().Err(err).Msg("mock worker server stopped")
			}
		}()
		workerServers = append(workerServers, workerSrv)

		host, portStr, err := net.SplitHostPort(lis.Addr().String())
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return err
		}
		instanceParams = append(instanceParams, schedule.InstanceExecParams{
			FragmentInstanceID: execrpc.NewFragmentInstanceID(),
			Host:               host,
			Port:               port,
			ScanRangeAssignment: map[string][]execrpc.ScanRange{
				host: {{Path: fmt.Sprintf("demo-input-%d", i), Offset: 0, Length: 1 << 20}},
			},
		})
	}

	sched := schedule.QuerySchedule{
		QueryID:         queryID,
		TotalScanRanges: instances * 100,
		Fragments: []schedule.FragmentExecParams{
			{FragmentIdx: 0, Instances: instanceParams},
		},
	}
	if dml {
		sched.StmtType = schedule.StmtDML
		sched.RequiresFinalize = true
		sched.Finalize = schedule.FinalizeParams{
			BaseDir:    baseDir,
			StagingDir: stagingDir,
			TargetPartitions: []schedule.PartitionTarget{
				{PartitionKey: "0", Dir: baseDir + "/p0"},
			},
		}
	}

	log.Info().Str("query_id", queryID.String()).Int("instances", instances).Bool("dml", dml).Msg("starting Exec")
	if err := coord.Exec(ctx, sched); err != nil {
		return fmt.Errorf("Exec: %w", err)
	}

	if err := coord.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("query finished with an error")
	} else {
		log.Info().Msg("query finished OK")
	}

	fmt.Print(coord.QuerySummary())
	if errLog := coord.GetErrorLog(); len(errLog) > 0 {
		fmt.Println("Error log:")
		for _, line := range errLog {
			fmt.Println("  " + line)
		}
	}
	if update := coord.PrepareCatalogUpdate(); update != nil {
		fmt.Printf("Catalog update: query=%s rows_affected=%d partitions=%v\n",
			update.QueryID.String(), update.RowsAffected, update.PartitionKeys)
	}

	return nil
}
