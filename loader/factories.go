// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package loader

import (
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/market"
)

// Canonical mainnet deployments.
var (
	UniswapV2Factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	SushiswapFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	UniswapV3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	PancakeV3Factory = common.HexToAddress("0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865")
	MaverickFactory  = common.HexToAddress("0xEb6625D65a0553c9dBc64449e56abFe519bd9c9B")
	CurveRegistry    = common.HexToAddress("0x90E00ACe148ca3b23Ac1bC8C240C2a7Dd9c2d7f5")
	LidoWstEth       = common.HexToAddress("0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0")
	RocketEthToken   = common.HexToAddress("0xae78736Cd615f374D3085123A210448E74Fc6393")
)

// MainnetFactories maps the major factories to their protocol class.
func MainnetFactories() FactoryTable {
	return FactoryTable{
		UniswapV2Factory: market.PoolClassUniswapV2,
		SushiswapFactory: market.PoolClassUniswapV2,
		UniswapV3Factory: market.PoolClassUniswapV3,
		PancakeV3Factory: market.PoolClassPancakeV3,
		MaverickFactory:  market.PoolClassMaverick,
		CurveRegistry:    market.PoolClassCurve,
	}
}
